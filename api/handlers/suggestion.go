package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/evermore-labs/relate-api/api"
	"github.com/evermore-labs/relate-api/config"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/models"
)

// defaultCheckInFrequencyDays is used when an accepted suggestion does not
// carry an edited check-in frequency
const defaultCheckInFrequencyDays = 7

// Suggestion struct mostly used for mocking tests
type Suggestion struct {
	DB  databases.SuggestionDatabase
	ADB databases.AgreementDatabase
	CDB databases.CoupleDatabase
}

// ListSuggestionsHandler returns a couple's agreement suggestions
func (s Suggestion) ListSuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	coupleID := r.URL.Query().Get("coupleId")
	if _, err := uuid.Parse(coupleID); err != nil {
		config.ErrorStatus("coupleId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	filter := bson.M{"coupleId": coupleID}
	if status := r.URL.Query().Get("status"); status != "" {
		filter["status"] = status
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	findOpts := options.Find().SetSort(bson.M{"createdAt": -1})
	suggestions, err := s.DB.Find(ctx, filter, findOpts)
	if err != nil {
		config.ErrorStatus("failed to list suggestions", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if suggestions == nil {
		suggestions = []models.AgreementSuggestion{}
	}

	b, err := json.Marshal(map[string]interface{}{"suggestions": suggestions})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

type createSuggestionRequest struct {
	CoupleID       string `json:"coupleId"`
	SessionID      string `json:"sessionId"`
	Title          string `json:"title"`
	UnderlyingNeed string `json:"underlyingNeed"`
	Responsible    string `json:"responsible"`
}

// CreateSuggestionHandler is the intake endpoint the session-analysis
// collaborator posts candidate agreements to
func (s Suggestion) CreateSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if _, err := uuid.Parse(req.CoupleID); err != nil {
		config.ErrorStatus("coupleId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if req.Title == "" {
		config.ErrorStatus("title is required", models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}
	if !models.ValidSuggestionResponsible(req.Responsible) {
		config.ErrorStatus("unknown responsible party", models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}

	if _, err := s.CDB.FindOne(context.Background(), bson.M{"_id": req.CoupleID}); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("couple not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	suggestion := models.AgreementSuggestion{
		ID:             uuid.New().String(),
		CoupleID:       req.CoupleID,
		SessionID:      req.SessionID,
		Title:          req.Title,
		UnderlyingNeed: req.UnderlyingNeed,
		Responsible:    req.Responsible,
		Status:         models.SuggestionStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.DB.InsertOne(context.Background(), suggestion); err != nil {
		config.ErrorStatus("failed to create suggestion", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":    true,
		"suggestion": suggestion,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

type resolveSuggestionRequest struct {
	Action               string   `json:"action"`
	UserID               string   `json:"userId"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	UnderlyingNeed       string   `json:"underlyingNeed"`
	Type                 string   `json:"type"`
	Responsible          string   `json:"responsible"`
	CheckInFrequencyDays int      `json:"checkInFrequencyDays"`
	Themes               []string `json:"themes"`
}

// ResolveSuggestionHandler accepts or dismisses a pending suggestion. Accepting
// creates an agreement from the (possibly edited) suggestion fields; a
// suggestion can only ever produce one agreement.
func (s Suggestion) ResolveSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	suggestionID := mux.Vars(r)["suggestion_id"]
	if _, err := uuid.Parse(suggestionID); err != nil {
		config.ErrorStatus("suggestion id must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	var req resolveSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	suggestion, err := s.DB.FindOne(context.Background(), bson.M{"_id": suggestionID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("suggestion not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get suggestion", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	couple, err := s.CDB.FindOne(context.Background(), bson.M{"_id": suggestion.CoupleID})
	if err != nil {
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if !couple.HasMember(req.UserID) {
		config.ErrorStatus("user is not a couple member", models.KindNotAuthorized, http.StatusForbidden, w, nil)
		return
	}

	switch req.Action {
	case "accept":
		s.accept(w, suggestion, couple, req)
	case "dismiss":
		s.dismiss(w, suggestion, req.UserID)
	default:
		config.ErrorStatus("unknown action", models.KindValidationError, http.StatusBadRequest, w, nil)
	}
}

func (s Suggestion) accept(w http.ResponseWriter, suggestion *models.AgreementSuggestion, couple *models.Couple, req resolveSuggestionRequest) {
	// only the responsible party may accept; the UI maps this to a
	// "waiting on partner" state rather than a hard error
	responsible := suggestion.ResponsibleUserID(couple)
	if responsible != nil && *responsible != req.UserID {
		config.ErrorStatus("waiting on partner to accept", models.KindNotAuthorized, http.StatusForbidden, w, errors.New("waiting_on_partner"))
		return
	}

	create := createAgreementRequest{
		CoupleID:             suggestion.CoupleID,
		UserID:               req.UserID,
		Title:                suggestion.Title,
		Description:          req.Description,
		UnderlyingNeed:       suggestion.UnderlyingNeed,
		Type:                 models.AgreementTypeBehavior,
		ResponsibleUserID:    responsible,
		CheckInFrequencyDays: defaultCheckInFrequencyDays,
		Themes:               req.Themes,
		SessionID:            suggestion.SessionID,
	}
	if req.Title != "" {
		create.Title = req.Title
	}
	if req.UnderlyingNeed != "" {
		create.UnderlyingNeed = req.UnderlyingNeed
	}
	if req.Type != "" {
		if !models.ValidAgreementType(req.Type) {
			config.ErrorStatus("unknown agreement type", models.KindValidationError, http.StatusBadRequest, w, nil)
			return
		}
		create.Type = req.Type
	}
	if req.Responsible != "" {
		if !models.ValidSuggestionResponsible(req.Responsible) {
			config.ErrorStatus("unknown responsible party", models.KindValidationError, http.StatusBadRequest, w, nil)
			return
		}
		edited := models.AgreementSuggestion{Responsible: req.Responsible}
		create.ResponsibleUserID = edited.ResponsibleUserID(couple)
	}
	if req.CheckInFrequencyDays > 0 {
		create.CheckInFrequencyDays = req.CheckInFrequencyDays
	}

	now := time.Now().UTC()

	if _, err := claimSuggestion(context.Background(), s.DB, suggestion.ID, req.UserID, now); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("suggestion already resolved", models.KindConflict, http.StatusConflict, w, models.ErrAlreadyResolved)
			return
		}
		config.ErrorStatus("failed to claim suggestion", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	agreement := newAgreement(couple, create, now)
	if _, err := s.ADB.InsertOne(context.Background(), agreement); err != nil {
		revertSuggestion(s.DB, suggestion.ID)
		config.ErrorStatus("failed to create agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	linkSuggestion(s.DB, suggestion.ID, agreement.ID)

	b, err := json.Marshal(map[string]interface{}{
		"success":              true,
		"agreement":            agreement,
		"needsPartnerApproval": agreement.Status == models.AgreementStatusPendingApproval,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// dismiss marks a pending suggestion dismissed. Either couple member may
// dismiss regardless of the responsible party; repeating a dismiss is a no-op
// conflict, never a duplicate side effect.
func (s Suggestion) dismiss(w http.ResponseWriter, suggestion *models.AgreementSuggestion, userID string) {
	now := time.Now().UTC()
	updated, err := s.DB.FindOneAndUpdate(context.Background(),
		bson.M{"_id": suggestion.ID, "status": models.SuggestionStatusPending},
		bson.M{"$set": bson.M{"status": models.SuggestionStatusDismissed, "resolvedBy": userID, "resolvedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("suggestion already resolved", models.KindConflict, http.StatusConflict, w, models.ErrAlreadyResolved)
			return
		}
		config.ErrorStatus("failed to dismiss suggestion", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":    true,
		"suggestion": updated,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// claimSuggestion conditionally flips a pending suggestion to accepted so that
// exactly one agreement can ever be created from it. Returns
// mongo.ErrNoDocuments when the suggestion was already resolved.
func claimSuggestion(ctx context.Context, db databases.SuggestionDatabase, suggestionID, userID string, now time.Time) (*models.AgreementSuggestion, error) {
	return db.FindOneAndUpdate(ctx,
		bson.M{"_id": suggestionID, "status": models.SuggestionStatusPending},
		bson.M{"$set": bson.M{"status": models.SuggestionStatusAccepted, "resolvedBy": userID, "resolvedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
}

// revertSuggestion is the compensating action for a failed agreement insert
// after a successful claim
func revertSuggestion(db databases.SuggestionDatabase, suggestionID string) {
	_, err := db.UpdateOne(context.Background(),
		bson.M{"_id": suggestionID, "status": models.SuggestionStatusAccepted},
		bson.M{"$set": bson.M{"status": models.SuggestionStatusPending}, "$unset": bson.M{"resolvedBy": "", "resolvedAt": ""}},
	)
	if err != nil {
		zap.S().Errorw("compensation failed: could not revert suggestion", "suggestionId", suggestionID, "error", err)
	}
}

// linkSuggestion records which agreement a suggestion produced. A failure here
// leaves the suggestion accepted but unlinked, which is logged and tolerated:
// the acceptance itself already succeeded.
func linkSuggestion(db databases.SuggestionDatabase, suggestionID, agreementID string) {
	_, err := db.UpdateOne(context.Background(),
		bson.M{"_id": suggestionID},
		bson.M{"$set": bson.M{"createdAgreementId": agreementID}},
	)
	if err != nil {
		zap.S().Errorw("failed to link suggestion to created agreement",
			"suggestionId", suggestionID,
			"agreementId", agreementID,
			"error", err)
	}
}
