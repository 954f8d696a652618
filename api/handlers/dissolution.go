package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/evermore-labs/relate-api/config"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/models"
)

// Dissolution struct mostly used for mocking tests
type Dissolution struct {
	CDB databases.CoupleDatabase
	ADB databases.AgreementDatabase
	UDB databases.UserDatabase
}

type disconnectRequest struct {
	UserID        string `json:"userId"`
	Action        string `json:"action"`
	KeepLearnings bool   `json:"keepLearnings"`
}

// DisconnectHandler drives the couple dissolution handshake:
// initiate -> confirm, with cancel available to either member in between.
// Each member's keepLearnings choice is recorded independently.
func (d Dissolution) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	couple, err := d.CDB.FindOne(context.Background(), bson.M{
		"$or":    bson.A{bson.M{"userA": req.UserID}, bson.M{"userB": req.UserID}},
		"status": bson.M{"$ne": models.CoupleStatusDissolved},
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("user does not belong to a couple", models.KindNotFound, http.StatusNotFound, w, models.ErrNotInCouple)
			return
		}
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	switch req.Action {
	case "initiate":
		d.initiate(w, couple, req)
	case "confirm":
		d.confirm(w, couple, req)
	case "cancel":
		d.cancel(w, couple, req)
	default:
		config.ErrorStatus("unknown action", models.KindValidationError, http.StatusBadRequest, w, nil)
	}
}

// initiate flips the couple to pending_dissolution and cascades every
// non-terminal agreement to dissolved_with_couple. The cascade is the
// irreversible step: a later cancel restores the couple but not the
// agreements, on purpose.
func (d Dissolution) initiate(w http.ResponseWriter, couple *models.Couple, req disconnectRequest) {
	if couple.Status != models.CoupleStatusActive {
		config.ErrorStatus("dissolution already in progress", models.KindConflict, http.StatusConflict, w, nil)
		return
	}

	now := time.Now().UTC()

	snapshotCount, err := d.ADB.CountDocuments(context.Background(), bson.M{
		"coupleId": couple.ID,
		"status":   bson.M{"$in": models.NonTerminalAgreementStatuses()},
	})
	if err != nil {
		config.ErrorStatus("failed to count agreements", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	updated, err := d.CDB.FindOneAndUpdate(context.Background(),
		bson.M{"_id": couple.ID, "status": models.CoupleStatusActive},
		bson.M{"$set": bson.M{
			"status": models.CoupleStatusPendingDissolution,
			"pendingDissolution": models.PendingDissolution{
				InitiatedBy:             req.UserID,
				InitiatedAt:             now,
				AgreementsSnapshotCount: int(snapshotCount),
			},
			fmt.Sprintf("keepLearnings.%s", req.UserID): req.KeepLearnings,
			"updatedAt": now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("dissolution already in progress", models.KindConflict, http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to initiate dissolution", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	_, err = d.ADB.UpdateMany(context.Background(),
		bson.M{"coupleId": couple.ID, "status": bson.M{"$in": models.NonTerminalAgreementStatuses()}},
		bson.M{"$set": bson.M{"status": models.AgreementStatusDissolvedWithCouple, "updatedAt": now}},
	)
	if err != nil {
		// the couple stays pending_dissolution; confirm re-runs this cascade
		// before finalizing, so surface the failure without a rollback
		config.ErrorStatus("failed to dissolve agreements", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{
		"success": true,
		"couple":  updated,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// confirm finalizes the dissolution. Only the non-initiating member may
// confirm. Profile unlinking happens before the final status flip, with a
// compensating re-link if the second unlink or the flip fails.
func (d Dissolution) confirm(w http.ResponseWriter, couple *models.Couple, req disconnectRequest) {
	if couple.Status != models.CoupleStatusPendingDissolution || couple.PendingDissolution == nil {
		config.ErrorStatus("no dissolution in progress", models.KindConflict, http.StatusConflict, w, nil)
		return
	}
	initiator := couple.PendingDissolution.InitiatedBy
	if req.UserID == initiator {
		config.ErrorStatus("initiator cannot confirm their own dissolution", models.KindConflict, http.StatusConflict, w, nil)
		return
	}

	now := time.Now().UTC()

	// the confirmer's learnings choice is stored independently of the
	// initiator's; neither overwrites the other
	_, err := d.CDB.UpdateOne(context.Background(), bson.M{"_id": couple.ID}, bson.M{
		"$set": bson.M{fmt.Sprintf("keepLearnings.%s", req.UserID): req.KeepLearnings, "updatedAt": now},
	})
	if err != nil {
		config.ErrorStatus("failed to record learnings choice", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	// re-run the agreement cascade before finalizing; it is a no-op when
	// initiate already completed it, and closes the gap when initiate's
	// cascade failed partway
	_, err = d.ADB.UpdateMany(context.Background(),
		bson.M{"coupleId": couple.ID, "status": bson.M{"$in": models.NonTerminalAgreementStatuses()}},
		bson.M{"$set": bson.M{"status": models.AgreementStatusDissolvedWithCouple, "updatedAt": now}},
	)
	if err != nil {
		config.ErrorStatus("failed to dissolve agreements", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	confirmer := couple.PartnerOf(initiator)

	// step 1: unlink the initiator profile
	if err := d.unlinkProfile(initiator); err != nil {
		config.ErrorStatus("failed to unlink initiator profile", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	// step 2: unlink the confirmer profile, re-linking the initiator on failure
	if err := d.unlinkProfile(confirmer); err != nil {
		d.relinkProfile(initiator, couple.ID, confirmer)
		config.ErrorStatus("failed to unlink confirmer profile", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	// step 3: finalize the couple
	_, err = d.CDB.FindOneAndUpdate(context.Background(),
		bson.M{"_id": couple.ID, "status": models.CoupleStatusPendingDissolution},
		bson.M{"$set": bson.M{"status": models.CoupleStatusDissolved, "updatedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		d.relinkProfile(initiator, couple.ID, confirmer)
		d.relinkProfile(confirmer, couple.ID, initiator)
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("dissolution was cancelled concurrently", models.KindConflict, http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to finalize dissolution", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{"success": true})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// cancel restores a pending dissolution to an active couple. Agreements
// already cascaded to dissolved_with_couple stay dissolved.
func (d Dissolution) cancel(w http.ResponseWriter, couple *models.Couple, req disconnectRequest) {
	now := time.Now().UTC()
	updated, err := d.CDB.FindOneAndUpdate(context.Background(),
		bson.M{"_id": couple.ID, "status": models.CoupleStatusPendingDissolution},
		bson.M{
			"$set":   bson.M{"status": models.CoupleStatusActive, "updatedAt": now},
			"$unset": bson.M{"pendingDissolution": "", "keepLearnings": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("no dissolution in progress", models.KindConflict, http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to cancel dissolution", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(map[string]interface{}{
		"success": true,
		"couple":  updated,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (d Dissolution) unlinkProfile(userID string) error {
	_, err := d.UDB.UpdateOne(context.Background(), bson.M{"_id": userID}, bson.M{
		"$unset": bson.M{"coupleId": "", "partnerId": ""},
	})
	return err
}

func (d Dissolution) relinkProfile(userID, coupleID, partnerID string) {
	_, err := d.UDB.UpdateOne(context.Background(), bson.M{"_id": userID}, bson.M{
		"$set": bson.M{"coupleId": coupleID, "partnerId": partnerID},
	})
	if err != nil {
		zap.S().Errorw("compensation failed: could not re-link profile", "userId", userID, "error", err)
	}
}
