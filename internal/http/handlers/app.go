package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"forge/internal/objectstore"
	"forge/internal/orchestrator"
	"forge/internal/registrar"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Registrar    *registrar.Registrar
	Orchestrator *orchestrator.Orchestrator
	Store        objectstore.Gateway
	DownloadTTL  time.Duration
	Logger       zerolog.Logger
}

func NewApp(reg *registrar.Registrar, orc *orchestrator.Orchestrator, store objectstore.Gateway, downloadTTL time.Duration, logger zerolog.Logger) *App {
	return &App{
		Registrar:    reg,
		Orchestrator: orc,
		Store:        store,
		DownloadTTL:  downloadTTL,
		Logger:       logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
