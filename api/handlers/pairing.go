package handlers

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/evermore-labs/relate-api/config"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/models"
)

// maxCodeMintAttempts bounds the collision retry loop. Collisions are
// negligible at 6 characters over a 32-glyph alphabet but must be handled.
const maxCodeMintAttempts = 5

// Pairing struct mostly used for mocking tests
type Pairing struct {
	CodeDB databases.PairingCodeDatabase
	CDB    databases.CoupleDatabase
	UDB    databases.UserDatabase
}

// IssueCodeHandler returns the caller's active pairing code, minting one if
// no unused unexpired code exists
func (p Pairing) IssueCodeHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if _, err := uuid.Parse(userID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	profile, err := p.UDB.FindOne(context.Background(), bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("user not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get user", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if profile.Paired() {
		config.ErrorStatus("user already belongs to a couple", models.KindConflict, http.StatusConflict, w, models.ErrAlreadyPaired)
		return
	}

	now := time.Now().UTC()

	// reuse an existing unexpired unused code rather than minting a duplicate
	code, err := p.CodeDB.FindOne(context.Background(), bson.M{
		"ownerId":   userID,
		"usedBy":    nil,
		"expiresAt": bson.M{"$gt": now},
	})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to look up pairing code", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if err != nil {
		code, err = p.mintCode(context.Background(), userID, now)
		if err != nil {
			config.ErrorStatus("failed to mint pairing code", models.KindStorageFailure, http.StatusInternalServerError, w, err)
			return
		}
	}

	b, err := json.Marshal(map[string]interface{}{
		"code":      code.Code,
		"expiresAt": code.ExpiresAt,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (p Pairing) mintCode(ctx context.Context, ownerID string, now time.Time) (*models.PairingCode, error) {
	for attempt := 0; attempt < maxCodeMintAttempts; attempt++ {
		candidate, err := generatePairingCode()
		if err != nil {
			return nil, err
		}

		// a candidate collides only with another still-redeemable code
		taken, err := p.CodeDB.CountDocuments(ctx, bson.M{
			"code":      candidate,
			"usedBy":    nil,
			"expiresAt": bson.M{"$gt": now},
		})
		if err != nil {
			return nil, err
		}
		if taken > 0 {
			zap.S().Warnw("pairing code collision, retrying", "attempt", attempt)
			continue
		}

		code := models.PairingCode{
			ID:        uuid.New().String(),
			Code:      candidate,
			OwnerID:   ownerID,
			ExpiresAt: now.Add(models.PairingCodeTTL),
			CreatedAt: now,
		}
		if _, err := p.CodeDB.InsertOne(ctx, code); err != nil {
			return nil, err
		}
		return &code, nil
	}
	return nil, errors.New("exhausted pairing code mint attempts")
}

func generatePairingCode() (string, error) {
	var sb strings.Builder
	alphabetLen := big.NewInt(int64(len(models.PairingCodeAlphabet)))
	for i := 0; i < models.PairingCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(models.PairingCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

type redeemRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// RedeemCodeHandler links the redeemer and the code owner into a couple.
//
// The store only supports single-document writes, so the pairing is an ordered
// sequence with a compensating action per step: (1) insert the couple row,
// (2) set the inviter profile, (3) set the redeemer profile, (4) mark the code
// used. Failure of step 2 deletes the couple; failure of step 3 reverts the
// inviter and deletes the couple; failure of step 4 is logged only, since the
// pairing is already complete and the stale code is tolerable.
func (p Pairing) RedeemCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if !models.ValidPairingCode(req.Code) {
		config.ErrorStatus("code must be 6 characters from the pairing alphabet", models.KindValidationError, http.StatusBadRequest, w, nil)
		return
	}

	redeemer, err := p.UDB.FindOne(context.Background(), bson.M{"_id": req.UserID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("user not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get user", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if redeemer.Paired() {
		config.ErrorStatus("user already belongs to a couple", models.KindConflict, http.StatusConflict, w, models.ErrAlreadyPaired)
		return
	}

	now := time.Now().UTC()

	code, err := p.CodeDB.FindOne(context.Background(), bson.M{"code": req.Code})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("invalid or expired code", models.KindConflict, http.StatusConflict, w, models.ErrInvalidOrExpiredCode)
			return
		}
		config.ErrorStatus("failed to look up pairing code", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if !code.Redeemable(now) || code.OwnerID == req.UserID {
		config.ErrorStatus("invalid or expired code", models.KindConflict, http.StatusConflict, w, models.ErrInvalidOrExpiredCode)
		return
	}

	inviter, err := p.UDB.FindOne(context.Background(), bson.M{"_id": code.OwnerID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("invalid or expired code", models.KindConflict, http.StatusConflict, w, models.ErrInvalidOrExpiredCode)
			return
		}
		config.ErrorStatus("failed to get inviter", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if inviter.Paired() {
		config.ErrorStatus("inviter already belongs to a couple", models.KindConflict, http.StatusConflict, w, models.ErrAlreadyPaired)
		return
	}

	couple := models.Couple{
		ID:        uuid.New().String(),
		UserA:     inviter.ID,
		UserB:     redeemer.ID,
		Status:    models.CoupleStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// step 1: create the couple row
	if _, err := p.CDB.InsertOne(context.Background(), couple); err != nil {
		config.ErrorStatus("failed to create couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	// step 2: link the inviter profile
	_, err = p.UDB.UpdateOne(context.Background(), bson.M{"_id": inviter.ID}, bson.M{
		"$set": bson.M{"coupleId": couple.ID, "partnerId": redeemer.ID, "updatedAt": now},
	})
	if err != nil {
		p.rollbackCouple(couple.ID)
		config.ErrorStatus("failed to link inviter profile", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	// step 3: link the redeemer profile
	_, err = p.UDB.UpdateOne(context.Background(), bson.M{"_id": redeemer.ID}, bson.M{
		"$set": bson.M{"coupleId": couple.ID, "partnerId": inviter.ID, "updatedAt": now},
	})
	if err != nil {
		p.rollbackProfile(inviter.ID)
		p.rollbackCouple(couple.ID)
		config.ErrorStatus("failed to link redeemer profile", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	// step 4: mark the code used. A failure here does not unwind the pairing;
	// the code merely goes stale, which the purge job eventually collects.
	_, err = p.CodeDB.UpdateOne(context.Background(), bson.M{"_id": code.ID, "usedBy": nil}, bson.M{
		"$set": bson.M{"usedBy": redeemer.ID, "usedAt": now},
	})
	if err != nil {
		zap.S().Errorw("failed to mark pairing code used, pairing stands",
			"code", code.Code,
			"coupleId", couple.ID,
			"error", err)
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":     true,
		"coupleId":    couple.ID,
		"partnerName": inviter.Name,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (p Pairing) rollbackProfile(userID string) {
	_, err := p.UDB.UpdateOne(context.Background(), bson.M{"_id": userID}, bson.M{
		"$unset": bson.M{"coupleId": "", "partnerId": ""},
	})
	if err != nil {
		zap.S().Errorw("compensation failed: could not unlink profile", "userId", userID, "error", err)
	}
}

func (p Pairing) rollbackCouple(coupleID string) {
	if err := p.CDB.DeleteOne(context.Background(), bson.M{"_id": coupleID}); err != nil {
		zap.S().Errorw("compensation failed: could not delete couple", "coupleId", coupleID, "error", err)
	}
}

// CoupleHandler returns the caller's couple with a partner summary and any
// pending dissolution state
func (p Pairing) CoupleHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if _, err := uuid.Parse(userID); err != nil {
		config.ErrorStatus("userId must be a valid uuid", models.KindValidationError, http.StatusBadRequest, w, err)
		return
	}

	profile, err := p.UDB.FindOne(context.Background(), bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("user not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get user", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	if !profile.Paired() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"paired": false}`))
		return
	}

	couple, err := p.CDB.FindOne(context.Background(), bson.M{"_id": profile.CoupleID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("couple not found", models.KindNotFound, http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get couple", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}

	partnerName := ""
	partner, err := p.UDB.FindOne(context.Background(), bson.M{"_id": couple.PartnerOf(userID)})
	if err != nil {
		zap.S().Warnw("failed to get partner profile", "coupleId", couple.ID, "error", err)
	} else {
		partnerName = partner.Name
	}

	b, err := json.Marshal(map[string]interface{}{
		"paired": true,
		"couple": couple,
		"partner": map[string]string{
			"_id":  couple.PartnerOf(userID),
			"name": partnerName,
		},
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", models.KindStorageFailure, http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
