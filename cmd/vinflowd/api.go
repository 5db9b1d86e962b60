package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/consistency"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	"vinflow-backend/services/orders"
	"vinflow-backend/services/qrlifecycle"
	"vinflow-backend/services/scheduler"
)

type apiServer struct {
	registry    *dealers.Registry
	inventory   inventory.Store
	qr          *qrlifecycle.Service
	consistency *consistency.Service
	orders      *orders.Service
	scheduler   *scheduler.Service
}

func (s apiServer) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /reports/consistency", s.handleConsistencyReport)
	mux.HandleFunc("GET /reports/qr", s.handleQrReport)
	mux.HandleFunc("POST /ingest/{dealership}", s.handleIngest)
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, map[string]string{"error": err.Error()})
}

func (s apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.scheduler.HealthSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJson(w, status, health)
}

func (s apiServer) handleConsistencyReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.consistency.RunFullCheck(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, report)
}

func (s apiServer) handleQrReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.qr.PrePrintValidationReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, report)
}

type ingestResponse struct {
	Location string `json:"location"`
	Rows     int    `json:"rows"`
}

// handleIngest accepts a scraper adapter's rows for one dealership. The
// path segment may be a display name; it is resolved to the inventory
// location before the write.
func (s apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	dealership := r.PathValue("dealership")

	var rows []inventory.VehicleRow
	err := json.NewDecoder(r.Body).Decode(&rows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	location := s.registry.Resolve(dealership)
	err = s.inventory.IngestScan(r.Context(), location, rows, timezone.Day(timezone.Now()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	slog.InfoContext(r.Context(), "ingested scan",
		"dealership", dealership, "location", location, "rows", len(rows))
	writeJson(w, http.StatusOK, ingestResponse{
		Location: location,
		Rows:     len(rows),
	})
}
