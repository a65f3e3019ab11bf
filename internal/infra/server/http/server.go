// Package httpserver exposes the admin HTTP surface for triggering ingest
// runs and inspecting execution history.
package httpserver

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/domain"
	"github.com/tradebatch/orderingest/internal/runmgr"
)

const (
	runPath        = "/admin/jobs/orderIngest/run"
	executionsPath = "/admin/jobs/orderIngest/executions"
	healthPath     = "/healthz"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// JobAdmin is the slice of the run manager the admin surface needs.
type JobAdmin interface {
	CurrentDate() time.Time
	Trigger(ctx context.Context, dataDate time.Time) (runmgr.JobExecution, error)
	RecentExecutions(ctx context.Context, limit int) ([]runmgr.JobExecution, error)
}

type httpServer struct {
	admin   JobAdmin
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHandler builds the admin handler. triggerRatePerMinute bounds how many
// manual run requests per minute are accepted; zero or negative disables the
// throttle.
func NewHandler(admin JobAdmin, triggerRatePerMinute int, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &httpServer{admin: admin, logger: logger}
	if triggerRatePerMinute > 0 {
		server.limiter = rate.NewLimiter(rate.Limit(float64(triggerRatePerMinute)/60.0), triggerRatePerMinute)
	}

	mux := http.NewServeMux()
	mux.Handle(runPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.runJob,
	}))
	mux.Handle(executionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listExecutions,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	return mux
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) runJob(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many trigger requests")
		return
	}

	date := s.admin.CurrentDate()
	if raw := strings.TrimSpace(r.URL.Query().Get("dataDate")); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid dataDate format")
			return
		}
		date = parsed
	}

	exec, err := s.admin.Trigger(r.Context(), date)
	if err != nil {
		if errs.IsCode(err, errs.CodeConflict) {
			writeError(w, http.StatusConflict, errs.Message(err))
			return
		}
		s.logger.Error("trigger ingest run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errs.Message(err))
		return
	}
	writeJSON(w, http.StatusAccepted, toExecutionDTO(exec))
}

func (s *httpServer) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	executions, err := s.admin.RecentExecutions(r.Context(), limit)
	if err != nil {
		s.logger.Error("list executions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errs.Message(err))
		return
	}
	dtos := make([]executionDTO, 0, len(executions))
	for _, exec := range executions {
		dtos = append(dtos, toExecutionDTO(exec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": dtos})
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type executionDTO struct {
	ID              int64  `json:"id"`
	JobName         string `json:"jobName"`
	DataDate        string `json:"dataDate"`
	Status          string `json:"status"`
	StartTime       string `json:"startTime,omitempty"`
	EndTime         string `json:"endTime,omitempty"`
	ExitCode        string `json:"exitStatus,omitempty"`
	ExitDescription string `json:"exitDescription,omitempty"`
}

func toExecutionDTO(exec runmgr.JobExecution) executionDTO {
	dto := executionDTO{
		ID:              exec.ID,
		JobName:         exec.JobName,
		DataDate:        exec.DataDate.Format(domain.DateLayout),
		Status:          string(exec.Status),
		ExitCode:        exec.ExitCode,
		ExitDescription: exec.ExitDescription,
	}
	if !exec.StartTime.IsZero() {
		dto.StartTime = exec.StartTime.UTC().Format(time.RFC3339)
	}
	if !exec.EndTime.IsZero() {
		dto.EndTime = exec.EndTime.UTC().Format(time.RFC3339)
	}
	return dto
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
