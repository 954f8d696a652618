package models

import (
	"strings"
	"time"
)

// PairingCodeAlphabet is the restricted character set for pairing codes.
// Ambiguous glyphs (I, O, 0, 1) are excluded.
const PairingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// PairingCodeLength is the fixed code length
const PairingCodeLength = 6

// PairingCodeTTL is how long an unused code stays redeemable
const PairingCodeTTL = 7 * 24 * time.Hour

// PairingCode represents the structure of a pairing code document in MongoDB.
// Codes are single-use and lazily minted, at most one active unused code per user.
type PairingCode struct {
	ID        string     `json:"_id" bson:"_id"`
	Code      string     `json:"code" bson:"code" index:"unique"`
	OwnerID   string     `json:"ownerId" bson:"ownerId"`
	ExpiresAt time.Time  `json:"expiresAt" bson:"expiresAt"`
	UsedBy    *string    `json:"usedBy,omitempty" bson:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty" bson:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
}

// Redeemable reports whether the code is still valid at the given instant
func (p *PairingCode) Redeemable(now time.Time) bool {
	return p.UsedBy == nil && p.ExpiresAt.After(now)
}

// ValidPairingCode reports whether code is 6 characters drawn from the
// restricted alphabet
func ValidPairingCode(code string) bool {
	if len(code) != PairingCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(PairingCodeAlphabet, r) {
			return false
		}
	}
	return true
}
