package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/evermore-labs/relate-api/api"
	"github.com/evermore-labs/relate-api/api/scheduler"
	"github.com/evermore-labs/relate-api/config"
	"github.com/evermore-labs/relate-api/databases"
	"github.com/evermore-labs/relate-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	dbHelper databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	p := Pairing{
		CodeDB: databases.NewPairingCodeDatabase(a.dbHelper),
		CDB:    databases.NewCoupleDatabase(a.dbHelper),
		UDB:    databases.NewUserDatabase(a.dbHelper),
	}
	ag := Agreement{
		DB:      databases.NewAgreementDatabase(a.dbHelper),
		CDB:     databases.NewCoupleDatabase(a.dbHelper),
		CheckDB: databases.NewCheckInDatabase(a.dbHelper),
		SDB:     databases.NewSuggestionDatabase(a.dbHelper),
	}
	ci := CheckIn{
		DB:  databases.NewCheckInDatabase(a.dbHelper),
		ADB: databases.NewAgreementDatabase(a.dbHelper),
		CDB: databases.NewCoupleDatabase(a.dbHelper),
	}
	sg := Suggestion{
		DB:  databases.NewSuggestionDatabase(a.dbHelper),
		ADB: databases.NewAgreementDatabase(a.dbHelper),
		CDB: databases.NewCoupleDatabase(a.dbHelper),
	}
	d := Dissolution{
		CDB: databases.NewCoupleDatabase(a.dbHelper),
		ADB: databases.NewAgreementDatabase(a.dbHelper),
		UDB: databases.NewUserDatabase(a.dbHelper),
	}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(api.TimeoutMiddleware(30 * time.Second))

	apiCreate.Handle("/auth/token", http.HandlerFunc(m.CreateToken)).Methods("POST")

	apiCreate.Handle("/couple", api.Middleware(http.HandlerFunc(p.CoupleHandler))).Methods("GET")
	apiCreate.Handle("/couple/pair", api.Middleware(http.HandlerFunc(p.IssueCodeHandler))).Methods("GET")
	apiCreate.Handle("/couple/pair", api.Middleware(http.HandlerFunc(p.RedeemCodeHandler))).Methods("POST")
	apiCreate.Handle("/couple/disconnect", api.Middleware(http.HandlerFunc(d.DisconnectHandler))).Methods("POST")

	apiCreate.Handle("/agreements", api.Middleware(http.HandlerFunc(ag.ListAgreementsHandler))).Methods("GET")
	apiCreate.Handle("/agreements", api.Middleware(http.HandlerFunc(ag.CreateAgreementHandler))).Methods("POST")
	apiCreate.Handle("/agreements/{agreement_id}", api.Middleware(http.HandlerFunc(ag.AgreementByIDHandler))).Methods("GET")
	apiCreate.Handle("/agreements/{agreement_id}", api.Middleware(http.HandlerFunc(ag.UpdateAgreementStatusHandler))).Methods("PATCH")
	apiCreate.Handle("/agreements/{agreement_id}/checkin", api.Middleware(http.HandlerFunc(ci.RecordCheckInHandler))).Methods("POST")
	apiCreate.Handle("/agreements/{agreement_id}/checkins", api.Middleware(http.HandlerFunc(ci.CheckInHistoryHandler))).Methods("GET")

	apiCreate.Handle("/suggestions", api.Middleware(http.HandlerFunc(sg.ListSuggestionsHandler))).Methods("GET")
	apiCreate.Handle("/suggestions", api.Middleware(http.HandlerFunc(sg.CreateSuggestionHandler))).Methods("POST")
	apiCreate.Handle("/suggestions/{suggestion_id}", api.Middleware(http.HandlerFunc(sg.ResolveSuggestionHandler))).Methods("PATCH")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("relate-api has connected to the database")

	// initialize api router
	a.initializeRoutes()
	return nil
}

// StartScheduler launches the background housekeeping jobs
func (a *App) StartScheduler() *scheduler.Scheduler {
	s := scheduler.NewScheduler(databases.NewPairingCodeDatabase(a.dbHelper))
	s.Start()
	return s
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
