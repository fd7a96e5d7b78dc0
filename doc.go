// Package possession is the client-side session layer of the pharmacy
// point-of-sale and inventory product.
//
// It owns everything between "staff member typed a password" and "this HTTP
// request carries a valid bearer token": persisting the token pair, deciding
// when an access token is about to expire, refreshing it exactly once no
// matter how many requests notice at the same time, and retrying a request
// once when the server answers 401.
//
// # Architecture
//
// Credential Store: persists the TokenPair and cached UserProfile under two
// fixed keys ("tokens" and "user"). Implementations live in the stores
// packages (file, memory, Redis, GORM, Datastore, scs).
//
// Token Inspector: DecodeExpiry, IsExpired and IsExpiringSoon read the exp
// claim of a JWT without verifying it. An undecodable token counts as
// expired.
//
// Refresh Coordinator, HTTP Gateway and Session: see the client package.
//
// # Basic Usage
//
//	file, _ := fs.Open("", "pharmacy-pos")
//	store, _ := file.ForServer("https://api.example.com")
//	sess := client.NewSession("https://api.example.com/api", store,
//	    client.WithLeadTime(2*time.Minute))
//	defer sess.Close()
//
//	sess.Initialize(ctx)
//	if !sess.IsAuthenticated() {
//	    res, err := sess.Login(ctx, possession.Credentials{Email: email, Password: pw})
//	    ...
//	}
//
//	var products []Product
//	err := sess.API().Get(ctx, "/inventory/products", &products)
//
// # Security
//
// Token decoding here is a UX optimization for scheduling refreshes. The
// server remains the only authority on token validity; nothing in this
// module verifies signatures.
package possession
