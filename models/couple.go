package models

import "time"

// Couple statuses
const (
	CoupleStatusActive             = "active"
	CoupleStatusPendingDissolution = "pending_dissolution"
	CoupleStatusDissolved          = "dissolved"
)

// Couple represents the structure of a couple document in MongoDB. Membership
// is immutable once created; only the Dissolution Protocol mutates shared fields.
type Couple struct {
	ID                 string              `json:"_id" bson:"_id"`
	UserA              string              `json:"userA" bson:"userA"`
	UserB              string              `json:"userB" bson:"userB"`
	Status             string              `json:"status" bson:"status"`
	KeepLearnings      map[string]bool     `json:"keepLearnings,omitempty" bson:"keepLearnings,omitempty"`
	PendingDissolution *PendingDissolution `json:"pendingDissolution,omitempty" bson:"pendingDissolution,omitempty"`
	CreatedAt          time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// PendingDissolution is the ephemeral mid-teardown state on a couple, visible
// to the non-initiating member until they confirm or cancel
type PendingDissolution struct {
	InitiatedBy             string    `json:"initiatedBy" bson:"initiatedBy"`
	InitiatedAt             time.Time `json:"initiatedAt" bson:"initiatedAt"`
	AgreementsSnapshotCount int       `json:"agreementsSnapshotCount" bson:"agreementsSnapshotCount"`
}

// HasMember reports whether userID is one of the two couple members
func (c *Couple) HasMember(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// PartnerOf returns the other member's id, or empty if userID is not a member
func (c *Couple) PartnerOf(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return ""
}
