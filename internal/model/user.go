// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// ID is the public, monotonically increasing number that appears in URLs
// (/user/{id}) and in session tokens. RecordID is the storage-internal key
// (an xid) and never leaves the server. Username and Email are globally
// unique; Email is stored lowercased.
type User struct {
	ID           int64     `json:"id"          db:"id"`
	RecordID     string    `json:"-"           db:"record_id"`
	Username     string    `json:"username"    db:"username"`
	Email        string    `json:"email"       db:"email"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	PasswordHash string    `json:"-"           db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"   db:"updated_at"`
}
