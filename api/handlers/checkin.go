package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
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

// CheckIn struct mostly used for mocking tests
type CheckIn struct {
	DB  databases.CheckInDatabase
	ADB databases.AgreementDatabase
	CDB databases.CoupleDatabase
}

type recordCheckInRequest struct {
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	WhatWorked  string `json:"whatWorked"`
	WhatWasHard string `json:"whatWasHard"`
}

// RecordCheckInHandler appends a check-in against an active agreement,
// recomputes the success streak, and schedules the next check-in. Early
// check-ins are allowed; due-ness is a surface concern for the caller.
func (c CheckIn) RecordCheckInHandler(w http.ResponseWriter, r *http.Request) {
	agreementID := mux.Vars(r)["agreement_id"]
	if _, err := uuid.Parse(agreementID); err != nil {
		config.ErrorStatus("agreement id must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	var req recordCheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if !models.ValidCheckInStatus(req.Status) {
		config.ErrorStatus("unknown check-in status", models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}

	agreement, err := c.ADB.FindOne(context.Background(), bson.M{"_id": agreementID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("agreement not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	couple, err := c.CDB.FindOne(context.Background(), bson.M{"_id": agreement.CoupleID})
	if err != nil {
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if !couple.HasMember(req.UserID) {
		config.ErrorStatus("user is not a couple member", models.KindNotAuthorized, http.StatusForbidden, w, nil)
		return
	}
	if agreement.ResponsibleUserID != nil && *agreement.ResponsibleUserID != req.UserID {
		config.ErrorStatus("only the responsible member may check in", models.KindNotAuthorized, http.StatusForbidden, w, nil)
		return
	}
	if agreement.Status != models.AgreementStatusActive {
		config.ErrorStatus("agreement is not active", models.KindConflict, http.StatusConflict, w, models.ErrNotActive)
		return
	}

	now := time.Now().UTC()

	checkIn := models.CheckIn{
		ID:          uuid.New().String(),
		AgreementID: agreementID,
		UserID:      req.UserID,
		Status:      req.Status,
		WhatWorked:  req.WhatWorked,
		WhatWasHard: req.WhatWasHard,
		CreatedAt:   now,
	}
	if _, err := c.DB.InsertOne(context.Background(), checkIn); err != nil {
		config.ErrorStatus("failed to record check-in", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	nextCheckInAt := now.Add(time.Duration(agreement.CheckInFrequencyDays) * 24 * time.Hour)
	update := bson.M{"$set": bson.M{
		"successStreak": 0,
		"nextCheckInAt": nextCheckInAt,
		"updatedAt":     now,
	}}
	if checkIn.Successful() {
		update = bson.M{
			"$inc": bson.M{"successStreak": 1},
			"$set": bson.M{"nextCheckInAt": nextCheckInAt, "updatedAt": now},
		}
	}

	// conditional on active so a concurrently dissolved or paused agreement
	// does not get rescheduled
	updated, err := c.ADB.FindOneAndUpdate(context.Background(),
		bson.M{"_id": agreementID, "status": models.AgreementStatusActive},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		// the check-in row already landed; remove it so a retry after the
		// error cannot double-count it in the history and success rate
		c.removeCheckIn(checkIn.ID)
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("agreement is no longer active", models.KindConflict, http.StatusConflict, w, models.ErrStaleTransition)
			return
		}
		config.ErrorStatus("failed to update agreement", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":   true,
		"agreement": updated,
		"checkIn":   checkIn,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// removeCheckIn is the compensating action for a recorded check-in whose
// agreement reschedule did not land
func (c CheckIn) removeCheckIn(checkInID string) {
	if err := c.DB.DeleteOne(context.Background(), bson.M{"_id": checkInID}); err != nil {
		zap.S().Errorw("compensation failed: could not remove check-in", "checkInId", checkInID, "error", err)
	}
}

// CheckInHistoryHandler returns an agreement's check-ins, newest first
func (c CheckIn) CheckInHistoryHandler(w http.ResponseWriter, r *http.Request) {
	agreementID := mux.Vars(r)["agreement_id"]
	if _, err := uuid.Parse(agreementID); err != nil {
		config.ErrorStatus("agreement id must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	limit := int64(20)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			config.ErrorStatus("limit must be a positive integer", models.KindValidationError, http.StatusBadRequest, w, err)
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	findOpts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetLimit(limit)
	checkIns, err := c.DB.Find(ctx, bson.M{"agreementId": agreementID}, findOpts)
	if err != nil {
		config.ErrorStatus("failed to list check-ins", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if checkIns == nil {
		checkIns = []models.CheckIn{}
	}

	b, err := json.Marshal(map[string]interface{}{"checkIns": checkIns})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
