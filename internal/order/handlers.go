package order

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nikipra16/parsely/internal/extract"
)

// maxBodySize caps request bodies; raw emails can be large
const maxBodySize = 10 << 20

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message}
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// rangeRequest is the body of sync and reparse requests
type rangeRequest struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Senders   []string `json:"senders"`
	Limit     int      `json:"limit"`
}

func (req rangeRequest) query() (RangeQuery, error) {
	start, err := parseDate(req.StartDate)
	if err != nil {
		return RangeQuery{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return RangeQuery{}, fmt.Errorf("end_date: %w", err)
	}
	q := RangeQuery{Start: start, End: end, Senders: req.Senders, Limit: req.Limit}
	return q, q.Validate()
}

// parseDate reads a YYYY-MM-DD date; empty means unset
func parseDate(s string) (time.Time, error) {
	if s = strings.TrimSpace(s); s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// decodeRange reads an optional range body
func decodeRange(w http.ResponseWriter, r *http.Request) (RangeQuery, bool) {
	var req rangeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
			jsonError(w, "Invalid request body", http.StatusBadRequest)
			return RangeQuery{}, false
		}
	}
	q, err := req.query()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return RangeQuery{}, false
	}
	return q, true
}

// handleListOrders returns orders, optionally filtered by category and date
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var filter OrderFilter
	if category := r.URL.Query().Get("category"); category != "" {
		filter.Category = extract.Category(category)
		if err := filter.Category.Validate(); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var err error
	if filter.From, err = parseDate(r.URL.Query().Get("from")); err != nil {
		jsonError(w, "Invalid from date", http.StatusBadRequest)
		return
	}
	if filter.To, err = parseDate(r.URL.Query().Get("to")); err != nil {
		jsonError(w, "Invalid to date", http.StatusBadRequest)
		return
	}

	orders, err := s.service.ListOrders(r.Context(), filter)
	if err != nil {
		slog.Error("Error listing orders", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// handleGetOrder returns a single order
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := s.service.GetOrder(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting order", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// handleDeleteOrder deletes an order
func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.service.DeleteOrder(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error deleting order", "id", id, "error", err)
		corsError(w, "Error deleting order", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSync fetches new emails and parses them
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeRange(w, r)
	if !ok {
		return
	}

	run, err := s.service.Sync(r.Context(), SyncRequest{RangeQuery: q})
	s.writeRun(w, run, err)
}

// handleReparse parses cached emails again
func (s *Server) handleReparse(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeRange(w, r)
	if !ok {
		return
	}

	run, err := s.service.Reparse(r.Context(), q)
	s.writeRun(w, run, err)
}

func (s *Server) writeRun(w http.ResponseWriter, run *Run, err error) {
	switch {
	case errors.Is(err, ErrNoMailbox):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ErrInvalidRange):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case err != nil && run == nil:
		slog.Error("Error starting run", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	case err != nil:
		slog.Error("Run failed", "id", run.ID, "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"run":   run,
		})
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

// handleParse parses a single email from the request body
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var email extract.RawEmail
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&email); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := s.service.ParseEmail(email)
	if err != nil {
		slog.Warn("Failed to parse email", "from", email.From, "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
			"order": parsed,
		})
		return
	}

	writeJSON(w, http.StatusOK, parsed)
}

// handleListRuns returns pipeline runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns(r.Context())
	if err != nil {
		slog.Error("Error listing runs", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}
