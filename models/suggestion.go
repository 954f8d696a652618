package models

import "time"

// Suggestion statuses
const (
	SuggestionStatusPending   = "pending"
	SuggestionStatusAccepted  = "accepted"
	SuggestionStatusDismissed = "dismissed"
)

// Suggestion responsible parties
const (
	SuggestionResponsibleBoth  = "both"
	SuggestionResponsibleUserA = "user_a"
	SuggestionResponsibleUserB = "user_b"
)

// AgreementSuggestion represents the structure of a suggestion document in
// MongoDB: a candidate agreement produced by the external session-analysis
// collaborator, awaiting acceptance or dismissal by a couple member
type AgreementSuggestion struct {
	ID                 string     `json:"_id" bson:"_id"`
	CoupleID           string     `json:"coupleId" bson:"coupleId"`
	SessionID          string     `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	Title              string     `json:"title" bson:"title"`
	UnderlyingNeed     string     `json:"underlyingNeed,omitempty" bson:"underlyingNeed,omitempty"`
	Responsible        string     `json:"responsible" bson:"responsible"`
	Status             string     `json:"status" bson:"status"`
	CreatedAgreementID string     `json:"createdAgreementId,omitempty" bson:"createdAgreementId,omitempty"`
	ResolvedBy         string     `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	ResolvedAt         *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt" bson:"createdAt"`
}

// ValidSuggestionResponsible reports whether r is a known responsible-party value
func ValidSuggestionResponsible(r string) bool {
	switch r {
	case SuggestionResponsibleBoth, SuggestionResponsibleUserA, SuggestionResponsibleUserB:
		return true
	}
	return false
}

// ResponsibleUserID resolves the suggestion's responsible party against the
// couple membership. Returns nil for joint responsibility.
func (s *AgreementSuggestion) ResponsibleUserID(couple *Couple) *string {
	switch s.Responsible {
	case SuggestionResponsibleUserA:
		return &couple.UserA
	case SuggestionResponsibleUserB:
		return &couple.UserB
	}
	return nil
}
