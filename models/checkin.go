package models

import "time"

// Check-in statuses
const (
	CheckInStatusGood        = "good"
	CheckInStatusPartial     = "partial"
	CheckInStatusDifficult   = "difficult"
	CheckInStatusNeedsChange = "needs_change"
)

// CheckIn represents the structure of a check-in document in MongoDB: an
// append-only self-report against an active agreement
type CheckIn struct {
	ID          string    `json:"_id" bson:"_id"`
	AgreementID string    `json:"agreementId" bson:"agreementId"`
	UserID      string    `json:"userId" bson:"userId"`
	Status      string    `json:"status" bson:"status"`
	WhatWorked  string    `json:"whatWorked,omitempty" bson:"whatWorked,omitempty"`
	WhatWasHard string    `json:"whatWasHard,omitempty" bson:"whatWasHard,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// ValidCheckInStatus reports whether s is one of the fixed check-in statuses
func ValidCheckInStatus(s string) bool {
	switch s {
	case CheckInStatusGood, CheckInStatusPartial, CheckInStatusDifficult, CheckInStatusNeedsChange:
		return true
	}
	return false
}

// Successful reports whether the check-in counts toward the success streak
func (c *CheckIn) Successful() bool {
	return c.Status == CheckInStatusGood || c.Status == CheckInStatusPartial
}
