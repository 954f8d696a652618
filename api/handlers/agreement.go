package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evermore-labs/relate-api/api"
	"github.com/evermore-labs/relate-api/config"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/models"
)

// recentCheckInLimit is how many check-ins list views return per agreement
const recentCheckInLimit = 5

// Agreement struct mostly used for mocking tests
type Agreement struct {
	DB      databases.AgreementDatabase
	CDB     databases.CoupleDatabase
	CheckDB databases.CheckInDatabase
	SDB     databases.SuggestionDatabase
}

type createAgreementRequest struct {
	CoupleID             string   `json:"coupleId"`
	UserID               string   `json:"userId"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	UnderlyingNeed       string   `json:"underlyingNeed"`
	Type                 string   `json:"type"`
	ResponsibleUserID    *string  `json:"responsibleUserId"`
	CheckInFrequencyDays int      `json:"checkInFrequencyDays"`
	Themes               []string `json:"themes"`
	SessionID            string   `json:"sessionId"`
	FromSuggestionID     string   `json:"fromSuggestionId"`
}

// newAgreement assembles an agreement with its initial approval state.
//
// Activation shortcuts: a concrete responsible user who is also the creator
// activates immediately, and an agreement created from a joint session is
// treated as implicitly approved by both members, since both took part in the
// session that produced it.
func newAgreement(couple *models.Couple, req createAgreementRequest, now time.Time) models.Agreement {
	a := models.Agreement{
		ID:                   uuid.New().String(),
		CoupleID:             couple.ID,
		Title:                req.Title,
		Description:          req.Description,
		UnderlyingNeed:       req.UnderlyingNeed,
		Type:                 req.Type,
		Themes:               req.Themes,
		ResponsibleUserID:    req.ResponsibleUserID,
		CreatedByUserID:      req.UserID,
		CreatedInSessionID:   req.SessionID,
		Status:               models.AgreementStatusPendingApproval,
		ApprovedBy:           []string{req.UserID},
		CheckInFrequencyDays: req.CheckInFrequencyDays,
		NextCheckInAt:        now.Add(time.Duration(req.CheckInFrequencyDays) * 24 * time.Hour),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if a.Themes == nil {
		a.Themes = []string{}
	}

	switch {
	case req.SessionID != "":
		a.Status = models.AgreementStatusActive
		a.ApprovedBy = []string{couple.UserA, couple.UserB}
	case req.ResponsibleUserID != nil && *req.ResponsibleUserID == req.UserID:
		a.Status = models.AgreementStatusActive
	}
	return a
}

// ListAgreementsHandler returns a couple's agreements enriched with recent
// check-ins, a success rate, and due-ness. Dissolved agreements are always excluded.
func (a Agreement) ListAgreementsHandler(w http.ResponseWriter, r *http.Request) {
	coupleID := r.URL.Query().Get("coupleId")
	if _, err := uuid.Parse(coupleID); err != nil {
		config.ErrorStatus("coupleId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	filter := bson.M{
		"coupleId": coupleID,
		"status":   bson.M{"$ne": models.AgreementStatusDissolvedWithCouple},
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if status == models.AgreementStatusDissolvedWithCouple {
			config.ErrorStatus("dissolved agreements are not listable", models.KindValidationError, http.StatusBadRequest, w, nil)
			return
		}
		filter["status"] = status
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	findOpts := options.Find().SetSort(bson.M{"createdAt": -1})
	agreements, err := a.DB.Find(ctx, filter, findOpts)
	if err != nil {
		config.ErrorStatus("failed to list agreements", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	now := time.Now().UTC()
	items := make([]models.AgreementListItem, 0, len(agreements))
	for _, ag := range agreements {
		item, err := enrichAgreement(ctx, a.CheckDB, ag, now)
		if err != nil {
			config.ErrorStatus("failed to load recent check-ins", models.KindStorageFailure, http.StatusInternalServerError, w, err)
			return
		}
		items = append(items, item)
	}

	b, err := json.Marshal(map[string]interface{}{"agreements": items})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// AgreementByIDHandler returns a single agreement with the same enrichment as
// the list view
func (a Agreement) AgreementByIDHandler(w http.ResponseWriter, r *http.Request) {
	agreementID := mux.Vars(r)["agreement_id"]
	if _, err := uuid.Parse(agreementID); err != nil {
		config.ErrorStatus("agreement id must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	agreement, err := a.DB.FindOne(context.Background(), bson.M{"_id": agreementID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("agreement not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	item, err := enrichAgreement(context.Background(), a.CheckDB, *agreement, time.Now().UTC())
	if err != nil {
		config.ErrorStatus("failed to load recent check-ins", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(item)
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// CreateAgreementHandler creates a new agreement for a couple
func (a Agreement) CreateAgreementHandler(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if msg := validateCreateAgreement(&req); msg != "" {
		config.ErrorStatus(msg, models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}

	couple, err := a.CDB.FindOne(context.Background(), bson.M{"_id": req.CoupleID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("couple not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if couple.Status != models.CoupleStatusActive {
		config.ErrorStatus("couple is not active", models.KindConflict, http.StatusConflict, w, nil)
		return
	}
	if !couple.HasMember(req.UserID) {
		config.ErrorStatus("user is not a couple member", models.KindNotAuthorized, http.StatusForbidden, w, nil)
		return
	}
	if req.ResponsibleUserID != nil && !couple.HasMember(*req.ResponsibleUserID) {
		config.ErrorStatus("responsible user is not a couple member", models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}

	now := time.Now().UTC()

	// creating from a suggestion claims it first so a suggestion can only ever
	// produce one agreement; the same ownership and responsible-party rules
	// apply as on the accept path
	if req.FromSuggestionID != "" {
		suggestion, err := a.SDB.FindOne(context.Background(), bson.M{"_id": req.FromSuggestionID})
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				config.ErrorStatus("suggestion not found", models.KindNotFound, http.StatusNotFound, w, err)
				return
			}
			config.ErrorStatus("failed to get suggestion", models.KindStorageFailure, http.StatusInternalServerError, w, err)
			return
		}
		if suggestion.CoupleID != req.CoupleID {
			config.ErrorStatus("suggestion not found", models.KindNotFound, http.StatusNotFound, w, nil)
			return
		}
		if responsible := suggestion.ResponsibleUserID(couple); responsible != nil && *responsible != req.UserID {
			config.ErrorStatus("waiting on partner to accept", models.KindNotAuthorized, http.StatusForbidden, w, errors.New("waiting_on_partner"))
			return
		}
		if _, err := claimSuggestion(context.Background(), a.SDB, req.FromSuggestionID, req.UserID, now); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				config.ErrorStatus("suggestion already resolved", models.KindConflict, http.StatusConflict, w, models.ErrAlreadyResolved)
				return
			}
			config.ErrorStatus("failed to claim suggestion", models.KindStorageFailure, http.StatusInternalServerError, w, err)
			return
		}
	}

	agreement := newAgreement(couple, req, now)
	if _, err := a.DB.InsertOne(context.Background(), agreement); err != nil {
		if req.FromSuggestionID != "" {
			revertSuggestion(a.SDB, req.FromSuggestionID)
		}
		config.ErrorStatus("failed to create agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	if req.FromSuggestionID != "" {
		linkSuggestion(a.SDB, req.FromSuggestionID, agreement.ID)
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":              true,
		"agreement":            agreement,
		"needsPartnerApproval": agreement.Status == models.AgreementStatusPendingApproval,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

func validateCreateAgreement(req *createAgreementRequest) string {
	if _, err := uuid.Parse(req.CoupleID); err != nil {
		return "coupleId must be a valid uuid"
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		return "userId must be a valid uuid"
	}
	if req.Title == "" {
		return "title is required"
	}
	if !models.ValidAgreementType(req.Type) {
		return "unknown agreement type"
	}
	if req.CheckInFrequencyDays <= 0 {
		return "checkInFrequencyDays must be positive"
	}
	if req.ResponsibleUserID != nil {
		if _, err := uuid.Parse(*req.ResponsibleUserID); err != nil {
			return "responsibleUserId must be a valid uuid"
		}
	}
	if req.FromSuggestionID != "" {
		if _, err := uuid.Parse(req.FromSuggestionID); err != nil {
			return "fromSuggestionId must be a valid uuid"
		}
	}
	return ""
}

type updateAgreementRequest struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

// UpdateAgreementStatusHandler applies a lifecycle action to an agreement.
// Transitions are compare-and-set on the current status so two racing
// transitions cannot both win.
func (a Agreement) UpdateAgreementStatusHandler(w http.ResponseWriter, r *http.Request) {
	agreementID := mux.Vars(r)["agreement_id"]
	if _, err := uuid.Parse(agreementID); err != nil {
		config.ErrorStatus("agreement id must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	var req updateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	agreement, err := a.DB.FindOne(context.Background(), bson.M{"_id": agreementID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("agreement not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	couple, err := a.CDB.FindOne(context.Background(), bson.M{"_id": agreement.CoupleID})
	if err != nil {
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if !couple.HasMember(req.UserID) {
		config.ErrorStatus("user is not a couple member", models.KindNotAuthorized, http.StatusForbidden, w, nil)
		return
	}

	now := time.Now().UTC()

	var updated *models.Agreement
	switch req.Action {
	case models.AgreementActionApprove:
		updated, err = a.approve(context.Background(), agreement, couple, req.UserID, now)
	case models.AgreementActionPause:
		updated, err = a.transition(context.Background(), agreementID, bson.M{"status": models.AgreementStatusActive}, models.AgreementStatusPaused, now)
	case models.AgreementActionResume:
		updated, err = a.transition(context.Background(), agreementID, bson.M{"status": models.AgreementStatusPaused}, models.AgreementStatusActive, now)
	case models.AgreementActionAchieve:
		updated, err = a.transition(context.Background(), agreementID, bson.M{"status": models.AgreementStatusActive}, models.AgreementStatusAchieved, now)
	case models.AgreementActionArchive:
		updated, err = a.transition(context.Background(), agreementID, bson.M{"status": bson.M{"$in": models.NonTerminalAgreementStatuses()}}, models.AgreementStatusArchived, now)
	default:
		config.ErrorStatus("unknown action", models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrStaleTransition) {
			config.ErrorStatus("agreement cannot make this transition", models.KindConflict, http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to update agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":   true,
		"agreement": updated,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// approve adds the caller to the approval set and activates the agreement once
// the set is complete. The add is an atomic set-union so two concurrent
// approvals by the two members never lose one, and repeating an approval is a
// no-op.
func (a Agreement) approve(ctx context.Context, agreement *models.Agreement, couple *models.Couple, userID string, now time.Time) (*models.Agreement, error) {
	if agreement.IsTerminal() {
		return nil, models.ErrStaleTransition
	}

	// the filter repeats the terminal check so a racing archive cannot see
	// its row mutated afterwards
	_, err := a.DB.UpdateOne(ctx, bson.M{
		"_id":    agreement.ID,
		"status": bson.M{"$in": models.NonTerminalAgreementStatuses()},
	}, bson.M{
		"$addToSet": bson.M{"approvedBy": userID},
		"$set":      bson.M{"updatedAt": now},
	})
	if err != nil {
		return nil, err
	}

	// activation condition: both members for joint agreements, the responsible
	// member otherwise
	required := bson.M{"$all": bson.A{couple.UserA, couple.UserB}}
	if agreement.ResponsibleUserID != nil {
		required = bson.M{"$all": bson.A{*agreement.ResponsibleUserID}}
	}

	activated, err := a.DB.FindOneAndUpdate(ctx,
		bson.M{"_id": agreement.ID, "status": models.AgreementStatusPendingApproval, "approvedBy": required},
		bson.M{"$set": bson.M{"status": models.AgreementStatusActive, "updatedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err == nil {
		return activated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// approval set not yet complete, or already active; return the current row
	return a.DB.FindOne(ctx, bson.M{"_id": agreement.ID})
}

func (a Agreement) transition(ctx context.Context, agreementID string, statusFilter bson.M, to string, now time.Time) (*models.Agreement, error) {
	filter := bson.M{"_id": agreementID}
	for k, v := range statusFilter {
		filter[k] = v
	}
	updated, err := a.DB.FindOneAndUpdate(ctx,
		filter,
		bson.M{"$set": bson.M{"status": to, "updatedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrStaleTransition
		}
		return nil, err
	}
	return updated, nil
}

// enrichAgreement attaches the most recent check-ins and the derived list-view
// fields to an agreement
func enrichAgreement(ctx context.Context, checkDB databases.CheckInDatabase, agreement models.Agreement, now time.Time) (models.AgreementListItem, error) {
	findOpts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetLimit(recentCheckInLimit)
	checkIns, err := checkDB.Find(ctx, bson.M{"agreementId": agreement.ID}, findOpts)
	if err != nil {
		return models.AgreementListItem{}, err
	}
	if checkIns == nil {
		checkIns = []models.CheckIn{}
	}

	item := models.AgreementListItem{
		Agreement:      agreement,
		RecentCheckIns: checkIns,
		IsCheckInDue:   !agreement.NextCheckInAt.After(now),
	}
	if len(checkIns) > 0 {
		successful := 0
		for i := range checkIns {
			if checkIns[i].Successful() {
				successful++
			}
		}
		rate := int(math.Round(float64(successful) / float64(len(checkIns)) * 100))
		item.RecentSuccessRate = &rate
	}
	return item, nil
}
