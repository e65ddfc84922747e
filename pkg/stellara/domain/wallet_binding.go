package domain

import "time"

// WalletBinding links a Stellar account (G... public key) to a user.
type WalletBinding struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	PublicKey string    `json:"publicKey"`
	Label     string    `json:"label"`
	Primary   bool      `json:"primary"`
	Created   time.Time `json:"created"`
}
