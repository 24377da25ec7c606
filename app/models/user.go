package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// User is an account that can own organizations and call the API. Engine
// requests authenticate with a per-user API key; only its hash is stored.
type User struct {
	ID           uint       `gorm:"primarykey"`
	Name         string     `gorm:"size:255;not null"`
	Email        string     `gorm:"size:255;not null;uniqueIndex"`
	APIKeyHash   string     `gorm:"size:64;uniqueIndex"`
	APIKeyPrefix string     `gorm:"size:12"`
	LastSeenAt   *time.Time `gorm:"default:null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HashAPIKey returns the stored form of a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a new raw key plus its hash and display prefix. The
// raw key is shown once and never persisted.
func GenerateAPIKey() (raw, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", err
	}
	raw = "pf_" + hex.EncodeToString(b)
	hash = HashAPIKey(raw)
	prefix = raw[:10]
	return raw, hash, prefix, nil
}
