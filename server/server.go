// Package server provides the read-only status API of the controller: unit
// reconciliation records and review units as JSON, plus health and metrics
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/windlass-cd/windlass/controller"
	"github.com/windlass-cd/windlass/controller/metrics"
	"github.com/windlass-cd/windlass/pkg/deploy"
	"github.com/windlass-cd/windlass/repository"
)

// UnitResponse is the API representation of a single unit's status.
type UnitResponse struct {
	deploy.ReconciliationRecord
	Operation *deploy.OperationState `json:"operation,omitempty"`
}

// StatusServer serves the status API over HTTP.
type StatusServer struct {
	*http.Server
	ctrl *controller.UnitController
	repo *repository.Repository
}

// NewStatusServer wires the API routes for the given controller and
// descriptor repository. metricsServer may be nil, in which case no metrics
// endpoint is mounted.
func NewStatusServer(addr string, ctrl *controller.UnitController, repo *repository.Repository, metricsServer *metrics.MetricsServer) *StatusServer {
	s := &StatusServer{ctrl: ctrl, repo: repo}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/units", s.listUnits)
	mux.HandleFunc("/api/v1/units/", s.unitRoutes)
	mux.HandleFunc("/api/v1/reviews", s.listReviews)
	mux.HandleFunc("/api/v1/reviews/", s.getReview)
	mux.HandleFunc("/healthz", s.healthz)
	if metricsServer != nil {
		mux.Handle(metrics.MetricsPath, metricsServer.Handler())
	}
	s.Server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves the API until the context is cancelled.
func (s *StatusServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Status server listening on %s", s.Addr)
		errCh <- s.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *StatusServer) listUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records := s.ctrl.Records()
	units := make([]UnitResponse, 0, len(records))
	for _, record := range records {
		units = append(units, UnitResponse{
			ReconciliationRecord: record,
			Operation:            s.ctrl.OperationState(record.Unit),
		})
	}
	writeJSON(w, units)
}

func (s *StatusServer) unitRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/units/")
	if name, found := strings.CutSuffix(rest, "/sync"); found {
		s.approveSync(w, r, name)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	record, ok := s.ctrl.Record(rest)
	if !ok {
		http.Error(w, "unit not found", http.StatusNotFound)
		return
	}
	writeJSON(w, UnitResponse{ReconciliationRecord: record, Operation: s.ctrl.OperationState(rest)})
}

func (s *StatusServer) approveSync(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ctrl.ApproveSync(r.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, controller.ErrUnitNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *StatusServer) listReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil {
		writeJSON(w, []*repository.ReviewUnit{})
		return
	}
	writeJSON(w, s.repo.Reviews())
}

func (s *StatusServer) getReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil {
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/reviews/")
	review, err := s.repo.GetReview(id)
	if err != nil {
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}
	writeJSON(w, review)
}

func (s *StatusServer) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Failed to encode response: %v", err)
	}
}
