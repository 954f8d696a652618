package models

import "time"

// UserProfile holds the structure for the user profile collection in mongo.
// Profiles are created by the external auth system; the core only reads them
// and writes the pairing fields (coupleId/partnerId).
type UserProfile struct {
	ID        string    `json:"_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	Password  string    `json:"-" bson:"password"`
	CoupleID  string    `json:"coupleId,omitempty" bson:"coupleId,omitempty"`
	PartnerID string    `json:"partnerId,omitempty" bson:"partnerId,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Paired reports whether the profile is currently linked into a couple
func (u *UserProfile) Paired() bool {
	return u.CoupleID != ""
}
