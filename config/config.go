package config

import (
	"encoding/json"
	"net/http"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/evermore-labs/relate-api/models"
)

// Config holds the project config values
type Config struct {
	URL          string `env:"DB_URI"`
	DatabaseName string `env:"DB_NAME"`
	BaseURL      string `env:"BASE_URL"`
	Port         string `env:"PORT" envDefault:"8080"`
}

// New sets up all config related services
func New() *Config {

	//setup zap logger and replace default logger
	logger := zap.NewExample()
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	conf := &Config{}
	if err := env.Parse(conf); err != nil {
		zap.S().With(err).Error("failed to parse environment config")
	}
	return conf
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// given message, error kind, status code and err
func ErrorStatus(message string, kind models.ErrorKind, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	resp := models.ErrorResponse{Kind: kind, Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	b, _ := json.Marshal(resp)
	w.Write(b)
}
