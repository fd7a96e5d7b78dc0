//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore credential store. It supports
// multi-tenancy through Datastore namespaces, so one project can hold the
// sessions of many pharmacies.
//
// # Datastore Kinds
//
//   - PosSession: one entity per session key, holding the token pair and
//     cached user profile as unindexed JSON
//
// # Usage
//
//	dsClient, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewCredentialStore(dsClient, "pharmacy-42", "terminal-3")
//	sess := client.NewSession(baseURL, store)
package gae
