//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed credential store. It supports any
// database that GORM supports (PostgreSQL, MySQL, SQLite, etc.) and suits
// shared POS terminals whose sessions live in the store's local database.
//
// # Database Schema
//
// The package auto-migrates one table:
//   - pos_sessions: one row per session key with the token pair and cached
//     user profile as JSON columns
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	store := gormstore.NewCredentialStore(db, "terminal-3")
//	sess := client.NewSession(baseURL, store)
package gorm
