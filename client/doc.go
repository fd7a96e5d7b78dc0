// Package client implements the session side of the POS backend's auth:
// login and logout, restoring a stored session at startup, and an HTTP
// client whose requests carry the bearer token and refresh it when needed.
//
// A Session is the entry point:
//
//	file, _ := fs.Open("", "possession")
//	store, _ := file.ForServer(baseURL)
//	sess := client.NewSession(baseURL, store,
//		client.WithLogger(logger),
//		client.OnSessionExpired(func(err error) { showLogin() }),
//	)
//	defer sess.Close()
//	sess.Initialize(ctx)
//
//	if !sess.IsAuthenticated() {
//		res, err := sess.Login(ctx, possession.Credentials{Email: email, Password: pw})
//		...
//	}
//
//	var items []Item
//	err := sess.API().Get(ctx, "/inventory", &items)
//
// Refreshes are coordinated: however many requests find the token expired at
// once, one refresh call is made and all of them use its result.
package client
