package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evermore-labs/relate-api/api/handlers"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/databases/mocks"
	"github.com/evermore-labs/relate-api/models"
)

type MockDatabaseHelper struct {
	mock.Mock
}

// Client provides a mock function.
func (_m *MockDatabaseHelper) Client() databases.ClientHelper {
	ret := _m.Called()

	var r0 databases.ClientHelper
	if rf, ok := ret.Get(0).(func() databases.ClientHelper); ok {
		r0 = rf()
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(databases.ClientHelper)
		}
	}

	return r0
}

// Collection provides a mock function.
func (_m *MockDatabaseHelper) Collection(name string) databases.CollectionHelper {
	ret := _m.Called(name)

	var r0 databases.CollectionHelper
	if rf, ok := ret.Get(0).(func(string) databases.CollectionHelper); ok {
		r0 = rf(name)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(databases.CollectionHelper)
		}
	}

	return r0
}

// shared fixture ids, valid uuids so handler validation passes
const (
	testUserA     = "0b7a9c1e-04f9-4b86-9bd5-5ad6c1f9c001"
	testUserB     = "1c8b0d2f-15fa-4c97-8ce6-6be7d20adb02"
	testCoupleID  = "2d9c1e30-26fb-4da8-9df7-7cf8e31bec03"
	testCodeID    = "3ead2f41-37fc-4eb9-8e08-8d09f42cfd04"
	testAgreement = "4fbe3052-48fd-4fca-9f19-9e1a053d0e05"
	testSuggID    = "50cf4163-59fe-40db-8a2a-af2b164e1f06"
)

func TestPairing_IssueCodeHandlerInvalidUserID(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple/pair?userId=asdf", nil)
	if err != nil {
		t.Fatal(err)
	}

	p := handlers.Pairing{}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.IssueCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "validation_error")
}

func TestPairing_IssueCodeHandlerAlreadyPaired(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple/pair?userId="+testUserA, nil)
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	userResult := &mocks.SingleResultHelper{}

	userResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA, CoupleID: testCoupleID, PartnerID: testUserB}
	})
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(userResult)
	db.On("Collection", "users").Return(usersConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.IssueCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "already belongs to a couple")
}

func TestPairing_IssueCodeHandlerReusesExistingCode(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple/pair?userId="+testUserA, nil)
	if err != nil {
		t.Fatal(err)
	}

	expiresAt := time.Now().UTC().Add(3 * 24 * time.Hour)

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	codesConn := &mocks.CollectionHelper{}
	userResult := &mocks.SingleResultHelper{}
	codeResult := &mocks.SingleResultHelper{}

	userResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA}
	})
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(userResult)
	codeResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.PairingCode)
		**arg = models.PairingCode{ID: testCodeID, Code: "K7M3PQ", OwnerID: testUserA, ExpiresAt: expiresAt}
	})
	codesConn.On("FindOne", mock.Anything, mock.Anything).Return(codeResult)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "pairingCodes").Return(codesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.IssueCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "K7M3PQ")
	codesConn.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestPairing_IssueCodeHandlerMintsNewCode(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple/pair?userId="+testUserA, nil)
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	codesConn := &mocks.CollectionHelper{}
	userResult := &mocks.SingleResultHelper{}
	codeResult := &mocks.SingleResultHelper{}

	userResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA}
	})
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(userResult)
	codeResult.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	codesConn.On("FindOne", mock.Anything, mock.Anything).Return(codeResult)
	codesConn.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(0), nil)
	codesConn.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "pairingCodes").Return(codesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.IssueCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Code      string    `json:"code"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	assert.True(t, models.ValidPairingCode(resp.Code), "minted code %q should be valid", resp.Code)
	assert.WithinDuration(t, time.Now().UTC().Add(models.PairingCodeTTL), resp.ExpiresAt, time.Minute)
	codesConn.AssertCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestPairing_RedeemCodeHandler(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"userId": testUserB, "code": "k7m3pq"})
	req, err := http.NewRequest("POST", "/api/v1/couple/pair", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	expiresAt := time.Now().UTC().Add(3 * 24 * time.Hour)

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	codesConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	redeemerResult := &mocks.SingleResultHelper{}
	inviterResult := &mocks.SingleResultHelper{}
	codeResult := &mocks.SingleResultHelper{}

	redeemerResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserB, Name: "Jordan"}
	})
	inviterResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA, Name: "Sam"}
	})
	codeResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.PairingCode)
		**arg = models.PairingCode{ID: testCodeID, Code: "K7M3PQ", OwnerID: testUserA, ExpiresAt: expiresAt}
	})

	usersConn.On("FindOne", mock.Anything, bson.M{"_id": testUserB}).Return(redeemerResult)
	usersConn.On("FindOne", mock.Anything, bson.M{"_id": testUserA}).Return(inviterResult)
	usersConn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	codesConn.On("FindOne", mock.Anything, bson.M{"code": "K7M3PQ"}).Return(codeResult)
	codesConn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	couplesConn.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "pairingCodes").Return(codesConn)
	db.On("Collection", "couples").Return(couplesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.RedeemCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":true`)
	assert.Contains(t, rr.Body.String(), "Sam")
	couplesConn.AssertCalled(t, "InsertOne", mock.Anything, mock.Anything)
	usersConn.AssertNumberOfCalls(t, "UpdateOne", 2)
	codesConn.AssertCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestPairing_RedeemCodeHandlerUnknownCode(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"userId": testUserB, "code": "K7M3PQ"})
	req, err := http.NewRequest("POST", "/api/v1/couple/pair", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	codesConn := &mocks.CollectionHelper{}
	userResult := &mocks.SingleResultHelper{}
	codeResult := &mocks.SingleResultHelper{}

	userResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserB}
	})
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(userResult)
	codeResult.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	codesConn.On("FindOne", mock.Anything, mock.Anything).Return(codeResult)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "pairingCodes").Return(codesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.RedeemCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid or expired code")
}

func TestPairing_RedeemCodeHandlerOwnCode(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"userId": testUserA, "code": "K7M3PQ"})
	req, err := http.NewRequest("POST", "/api/v1/couple/pair", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	codesConn := &mocks.CollectionHelper{}
	userResult := &mocks.SingleResultHelper{}
	codeResult := &mocks.SingleResultHelper{}

	userResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA}
	})
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(userResult)
	codeResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.PairingCode)
		**arg = models.PairingCode{ID: testCodeID, Code: "K7M3PQ", OwnerID: testUserA, ExpiresAt: time.Now().UTC().Add(time.Hour)}
	})
	codesConn.On("FindOne", mock.Anything, mock.Anything).Return(codeResult)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "pairingCodes").Return(codesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.RedeemCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid or expired code")
}

func TestPairing_RedeemCodeHandlerRollsBackOnRedeemerLinkFailure(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"userId": testUserB, "code": "K7M3PQ"})
	req, err := http.NewRequest("POST", "/api/v1/couple/pair", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	codesConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	redeemerResult := &mocks.SingleResultHelper{}
	inviterResult := &mocks.SingleResultHelper{}
	codeResult := &mocks.SingleResultHelper{}

	redeemerResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserB}
	})
	inviterResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA}
	})
	codeResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.PairingCode)
		**arg = models.PairingCode{ID: testCodeID, Code: "K7M3PQ", OwnerID: testUserA, ExpiresAt: time.Now().UTC().Add(time.Hour)}
	})

	usersConn.On("FindOne", mock.Anything, bson.M{"_id": testUserB}).Return(redeemerResult)
	usersConn.On("FindOne", mock.Anything, bson.M{"_id": testUserA}).Return(inviterResult)
	// inviter link succeeds, redeemer link fails, inviter rollback succeeds
	usersConn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()
	usersConn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error")).Once()
	usersConn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()
	codesConn.On("FindOne", mock.Anything, mock.Anything).Return(codeResult)
	couplesConn.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)
	couplesConn.On("DeleteOne", mock.Anything, mock.Anything).Return(nil)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "pairingCodes").Return(codesConn)
	db.On("Collection", "couples").Return(couplesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.RedeemCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	usersConn.AssertNumberOfCalls(t, "UpdateOne", 3)
	couplesConn.AssertCalled(t, "DeleteOne", mock.Anything, mock.Anything)
	codesConn.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestPairing_CoupleHandlerUnpaired(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple?userId="+testUserA, nil)
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	userResult := &mocks.SingleResultHelper{}

	userResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA}
	})
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(userResult)
	db.On("Collection", "users").Return(usersConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.CoupleHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"paired": false}`, rr.Body.String())
}

func TestPairing_CoupleHandlerDanglingCoupleRef(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple?userId="+testUserA, nil)
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	selfResult := &mocks.SingleResultHelper{}
	missingCouple := &mocks.SingleResultHelper{}

	// the profile points at a couple row that no longer exists
	selfResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA, CoupleID: testCoupleID, PartnerID: testUserB}
	})
	missingCouple.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	usersConn.On("FindOne", mock.Anything, mock.Anything).Return(selfResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(missingCouple)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "couples").Return(couplesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.CoupleHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "couple not found")
}

func TestPairing_CoupleHandlerPaired(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/couple?userId="+testUserA, nil)
	if err != nil {
		t.Fatal(err)
	}

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	couplesConn := &mocks.CollectionHelper{}
	selfResult := &mocks.SingleResultHelper{}
	partnerResult := &mocks.SingleResultHelper{}
	coupleResult := &mocks.SingleResultHelper{}

	selfResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserA, CoupleID: testCoupleID, PartnerID: testUserB}
	})
	partnerResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.UserProfile)
		**arg = models.UserProfile{ID: testUserB, Name: "Jordan"}
	})
	coupleResult.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Couple)
		**arg = models.Couple{ID: testCoupleID, UserA: testUserA, UserB: testUserB, Status: models.CoupleStatusActive}
	})
	usersConn.On("FindOne", mock.Anything, bson.M{"_id": testUserA}).Return(selfResult)
	usersConn.On("FindOne", mock.Anything, bson.M{"_id": testUserB}).Return(partnerResult)
	couplesConn.On("FindOne", mock.Anything, mock.Anything).Return(coupleResult)
	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "couples").Return(couplesConn)

	p := handlers.Pairing{
		CodeDB: databases.NewPairingCodeDatabase(db),
		CDB:    databases.NewCoupleDatabase(db),
		UDB:    databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(p.CoupleHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"paired":true`)
	assert.Contains(t, rr.Body.String(), "Jordan")
}
