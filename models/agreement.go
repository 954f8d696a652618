package models

import "time"

// Agreement statuses
const (
	AgreementStatusPendingApproval     = "pending_approval"
	AgreementStatusActive              = "active"
	AgreementStatusPaused              = "paused"
	AgreementStatusAchieved            = "achieved"
	AgreementStatusArchived            = "archived"
	AgreementStatusDissolvedWithCouple = "dissolved_with_couple"
)

// Agreement types
const (
	AgreementTypeBehavior      = "behavior"
	AgreementTypeCommunication = "communication"
	AgreementTypeRitual        = "ritual"
	AgreementTypeExperiment    = "experiment"
	AgreementTypeCommitment    = "commitment"
)

// Agreement lifecycle actions accepted by the PATCH endpoint
const (
	AgreementActionApprove = "approve"
	AgreementActionPause   = "pause"
	AgreementActionResume  = "resume"
	AgreementActionAchieve = "achieve"
	AgreementActionArchive = "archive"
)

// Agreement represents the structure of an agreement document in MongoDB: a
// shared behavioral commitment between the two couple members
type Agreement struct {
	ID                   string    `json:"_id" bson:"_id"`
	CoupleID             string    `json:"coupleId" bson:"coupleId"`
	Title                string    `json:"title" bson:"title"`
	Description          string    `json:"description,omitempty" bson:"description,omitempty"`
	UnderlyingNeed       string    `json:"underlyingNeed,omitempty" bson:"underlyingNeed,omitempty"`
	Type                 string    `json:"type" bson:"type"`
	Themes               []string  `json:"themes" bson:"themes"`
	ResponsibleUserID    *string   `json:"responsibleUserId,omitempty" bson:"responsibleUserId,omitempty"`
	CreatedByUserID      string    `json:"createdByUserId" bson:"createdByUserId"`
	CreatedInSessionID   string    `json:"createdInSessionId,omitempty" bson:"createdInSessionId,omitempty"`
	Status               string    `json:"status" bson:"status"`
	ApprovedBy           []string  `json:"approvedBy" bson:"approvedBy"`
	SuccessStreak        int       `json:"successStreak" bson:"successStreak"`
	CheckInFrequencyDays int       `json:"checkInFrequencyDays" bson:"checkInFrequencyDays"`
	NextCheckInAt        time.Time `json:"nextCheckInAt" bson:"nextCheckInAt"`
	CreatedAt            time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt" bson:"updatedAt"`
}

// RequiresMutualApproval reports whether both members must approve before the
// agreement can activate. Derived: no single responsible user means joint
// responsibility, which needs both signatures.
func (a *Agreement) RequiresMutualApproval() bool {
	return a.ResponsibleUserID == nil
}

// IsTerminal reports whether the agreement status admits no further transitions
func (a *Agreement) IsTerminal() bool {
	switch a.Status {
	case AgreementStatusAchieved, AgreementStatusArchived, AgreementStatusDissolvedWithCouple:
		return true
	}
	return false
}

// HasApproval reports whether userID is already in the approval set
func (a *Agreement) HasApproval(userID string) bool {
	for _, id := range a.ApprovedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ValidAgreementType reports whether t is one of the fixed agreement types
func ValidAgreementType(t string) bool {
	switch t {
	case AgreementTypeBehavior, AgreementTypeCommunication, AgreementTypeRitual,
		AgreementTypeExperiment, AgreementTypeCommitment:
		return true
	}
	return false
}

// NonTerminalAgreementStatuses lists the statuses the couple-dissolution
// cascade collapses into dissolved_with_couple
func NonTerminalAgreementStatuses() []string {
	return []string{AgreementStatusPendingApproval, AgreementStatusActive, AgreementStatusPaused}
}

// AgreementListItem is an agreement enriched for list views with its most
// recent check-ins and derived fields
type AgreementListItem struct {
	Agreement
	RecentCheckIns    []CheckIn `json:"recentCheckIns"`
	RecentSuccessRate *int      `json:"recentSuccessRate"`
	IsCheckInDue      bool      `json:"isCheckInDue"`
}
