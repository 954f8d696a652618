package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evermore-labs/relate-api/api/handlers"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/databases/mocks"
	"github.com/evermore-labs/relate-api/models"
)

func newCheckInHandler(db databases.DatabaseHelper) handlers.CheckIn {
	return handlers.CheckIn{
		DB:  databases.NewCheckInDatabase(db),
		ADB: databases.NewAgreementDatabase(db),
		CDB: databases.NewCoupleDatabase(db),
	}
}

func checkInRequest(t *testing.T, userID, status string) *http.Request {
	body, _ := json.Marshal(map[string]string{"userId": userID, "status": status})
	req, err := http.NewRequest("POST", "/api/v1/agreements/"+testAgreement+"/checkin", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return mux.SetURLVars(req, map[string]string{"agreement_id": testAgreement})
}

func TestCheckIn_RecordCheckInHandlerGood(t *testing.T) {
	req := checkInRequest(t, testUserA, models.CheckInStatusGood)

	db := &MockDatabaseHelper{}
	agreementsConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	checkInsConn := &mocks.CollectionHelper{}
	agreementResult := &mocks.SingleResultHelper{}
	updatedResult := &mocks.SingleResultHelper{}

	agreementResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{ID: testAgreement, CoupleID: testCoupleID, Status: models.AgreementStatusActive, SuccessStreak: 2, CheckInFrequencyDays: 7}
	})
	updatedResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{
			ID:            testAgreement,
			CoupleID:      testCoupleID,
			Status:        models.AgreementStatusActive,
			SuccessStreak: 3,
			NextCheckInAt: time.Now().UTC().Add(7 * 24 * time.Hour),
		}
	})
	agreementsConn.On("FindOne", mock.Anything, mock.Anything).Return(agreementResult)
	agreementsConn.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(updatedResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(activeCoupleResult())
	checkInsConn.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)
	db.On("Collection", "agreements").Return(agreementsConn)
	db.On("Collection", "couples").Return(couplesConn)
	db.On("Collection", "checkIns").Return(checkInsConn)

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(db).RecordCheckInHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"successStreak":3`)
	checkInsConn.AssertCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestCheckIn_RecordCheckInHandlerUnknownStatus(t *testing.T) {
	req := checkInRequest(t, testUserA, "great")

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(&MockDatabaseHelper{}).RecordCheckInHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown check-in status")
}

func TestCheckIn_RecordCheckInHandlerNotActive(t *testing.T) {
	req := checkInRequest(t, testUserA, models.CheckInStatusGood)

	db := &MockDatabaseHelper{}
	agreementsConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	agreementResult := &mocks.SingleResultHelper{}

	agreementResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{ID: testAgreement, CoupleID: testCoupleID, Status: models.AgreementStatusPaused}
	})
	agreementsConn.On("FindOne", mock.Anything, mock.Anything).Return(agreementResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(activeCoupleResult())
	db.On("Collection", "agreements").Return(agreementsConn)
	db.On("Collection", "couples").Return(couplesConn)

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(db).RecordCheckInHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "agreement is not active")
}

func TestCheckIn_RecordCheckInHandlerOnlyResponsibleMember(t *testing.T) {
	req := checkInRequest(t, testUserA, models.CheckInStatusGood)

	responsible := testUserB

	db := &MockDatabaseHelper{}
	agreementsConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	agreementResult := &mocks.SingleResultHelper{}

	agreementResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{ID: testAgreement, CoupleID: testCoupleID, Status: models.AgreementStatusActive, ResponsibleUserID: &responsible}
	})
	agreementsConn.On("FindOne", mock.Anything, mock.Anything).Return(agreementResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(activeCoupleResult())
	db.On("Collection", "agreements").Return(agreementsConn)
	db.On("Collection", "couples").Return(couplesConn)

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(db).RecordCheckInHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "only the responsible member may check in")
}

func TestCheckIn_RecordCheckInHandlerDifficultResetsStreak(t *testing.T) {
	req := checkInRequest(t, testUserA, models.CheckInStatusDifficult)

	db := &MockDatabaseHelper{}
	agreementsConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	checkInsConn := &mocks.CollectionHelper{}
	agreementResult := &mocks.SingleResultHelper{}
	updatedResult := &mocks.SingleResultHelper{}

	agreementResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{ID: testAgreement, CoupleID: testCoupleID, Status: models.AgreementStatusActive, SuccessStreak: 4, CheckInFrequencyDays: 7}
	})
	updatedResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{ID: testAgreement, CoupleID: testCoupleID, Status: models.AgreementStatusActive, SuccessStreak: 0}
	})
	agreementsConn.On("FindOne", mock.Anything, mock.Anything).Return(agreementResult)
	agreementsConn.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(updatedResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(activeCoupleResult())
	checkInsConn.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)
	db.On("Collection", "agreements").Return(agreementsConn)
	db.On("Collection", "couples").Return(couplesConn)
	db.On("Collection", "checkIns").Return(checkInsConn)

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(db).RecordCheckInHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"successStreak":0`)
}

func TestCheckIn_RecordCheckInHandlerConcurrentlyDeactivated(t *testing.T) {
	req := checkInRequest(t, testUserA, models.CheckInStatusGood)

	db := &MockDatabaseHelper{}
	agreementsConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	checkInsConn := &mocks.CollectionHelper{}
	agreementResult := &mocks.SingleResultHelper{}
	goneResult := &mocks.SingleResultHelper{}

	agreementResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Agreement)
		**arg = models.Agreement{ID: testAgreement, CoupleID: testCoupleID, Status: models.AgreementStatusActive, CheckInFrequencyDays: 7}
	})
	goneResult.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	agreementsConn.On("FindOne", mock.Anything, mock.Anything).Return(agreementResult)
	agreementsConn.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(goneResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(activeCoupleResult())
	checkInsConn.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)
	checkInsConn.On("DeleteOne", mock.Anything, mock.Anything).Return(nil)
	db.On("Collection", "agreements").Return(agreementsConn)
	db.On("Collection", "couples").Return(couplesConn)
	db.On("Collection", "checkIns").Return(checkInsConn)

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(db).RecordCheckInHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "no longer active")
	// the already-inserted check-in is removed so a retry cannot double-count it
	checkInsConn.AssertCalled(t, "DeleteOne", mock.Anything, mock.Anything)
}

func TestCheckIn_CheckInHistoryHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/agreements/"+testAgreement+"/checkins?limit=2", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"agreement_id": testAgreement})

	db := &MockDatabaseHelper{}
	checkInsConn := &mocks.CollectionHelper{}
	cursor := &mocks.CursorHelper{}

	cursor.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.CheckIn)
		*arg = []models.CheckIn{
			{ID: "c2", AgreementID: testAgreement, Status: models.CheckInStatusPartial},
			{ID: "c1", AgreementID: testAgreement, Status: models.CheckInStatusGood},
		}
	})
	checkInsConn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(cursor, nil)
	db.On("Collection", "checkIns").Return(checkInsConn)

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(db).CheckInHistoryHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		CheckIns []models.CheckIn `json:"checkIns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	assert.Len(t, resp.CheckIns, 2)
}

func TestCheckIn_CheckInHistoryHandlerBadLimit(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/agreements/"+testAgreement+"/checkins?limit=-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"agreement_id": testAgreement})

	rr := httptest.NewRecorder()
	http.HandlerFunc(newCheckInHandler(&MockDatabaseHelper{}).CheckInHistoryHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "limit must be a positive integer")
}
