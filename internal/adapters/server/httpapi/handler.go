// Package httpapi provides the REST HTTP adapter for the yard service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/markumedium/loading-server/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// RolloverSecretHeader carries the shared secret for POST /rollover.
const RolloverSecretHeader = "X-Rollover-Secret"

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	yard common.YardService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(yard common.YardService) *Handler {
	return &Handler{yard: yard}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.yard == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "yard service is not configured",
		})
		return
	}
	path := normalizePath(r.URL.Path)
	switch path {
	case "vehicles":
		switch r.Method {
		case http.MethodGet:
			h.handleListVehicles(w, r)
		case http.MethodPost:
			h.handleRegisterVehicle(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case "transitions":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleTransition(w, r)
	case "rollover":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleRollover(w, r)
	case "reports":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleReports(w, r)
	case "history":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleHistory(w, r)
	default:
		vehicleID, ok := resolveVehicleID(path)
		if !ok {
			writeJSONError(w, http.StatusNotFound, APIError{
				Code:    "not_found",
				Message: "endpoint not found",
			})
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGetVehicle(w, r, vehicleID)
		case http.MethodPut:
			h.handleUpdateVehicle(w, r, vehicleID)
		case http.MethodDelete:
			h.handleRemoveVehicle(w, r, vehicleID)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	}
}

// handleListVehicles serves GET `/vehicles?status=`.
func (h *Handler) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.yard.ListVehicles(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles": vehicles,
	})
}

// handleRegisterVehicle serves POST `/vehicles`.
func (h *Handler) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var req common.RegisterVehicleRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	vehicle, err := h.yard.RegisterVehicle(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

// handleGetVehicle serves GET `/vehicles/{id}`.
func (h *Handler) handleGetVehicle(w http.ResponseWriter, r *http.Request, vehicleID string) {
	vehicle, err := h.yard.GetVehicle(r.Context(), vehicleID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// handleUpdateVehicle serves PUT `/vehicles/{id}`.
func (h *Handler) handleUpdateVehicle(w http.ResponseWriter, r *http.Request, vehicleID string) {
	var req common.UpdateVehicleRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if req.ID != "" && req.ID != vehicleID {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "body id does not match path id",
		})
		return
	}
	req.ID = vehicleID
	vehicle, err := h.yard.UpdateVehicle(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// handleRemoveVehicle serves DELETE `/vehicles/{id}`.
func (h *Handler) handleRemoveVehicle(w http.ResponseWriter, r *http.Request, vehicleID string) {
	if err := h.yard.RemoveVehicle(r.Context(), vehicleID); err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransition serves POST `/transitions`.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req common.TransitionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if strings.TrimSpace(req.VehicleID) == "" || strings.TrimSpace(req.Status) == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "vehicle_id and status are required",
			Context: map[string]any{"statuses": common.SupportedStatuses()},
		})
		return
	}
	res, err := h.yard.Transition(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRollover serves POST `/rollover`.
func (h *Handler) handleRollover(w http.ResponseWriter, r *http.Request) {
	var req common.RolloverRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if mode := strings.TrimSpace(r.URL.Query().Get("mode")); mode != "" && req.Mode == "" {
		req.Mode = mode
	}
	req.Secret = r.Header.Get(RolloverSecretHeader)
	res, err := h.yard.Rollover(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleReports serves GET `/reports?date=` and `/reports?start=&end=`.
func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.yard.Reports(r.Context(), reportRequestFrom(r))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "markdown") {
		parts := make([]string, 0, len(reports))
		for _, report := range reports {
			parts = append(parts, report.Markdown)
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, strings.Join(parts, "\n"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
	})
}

// handleHistory serves GET `/history?date=` and `/history?start=&end=`.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	days, err := h.yard.History(r.Context(), reportRequestFrom(r))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days": days,
	})
}

func reportRequestFrom(r *http.Request) common.ReportRequest {
	q := r.URL.Query()
	return common.ReportRequest{
		Date:  q.Get("date"),
		Start: q.Get("start"),
		End:   q.Get("end"),
	}
}

// resolveVehicleID parses `/vehicles/{id}` and returns `{id}`.
func resolveVehicleID(path string) (string, bool) {
	const prefix = "vehicles/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(path, prefix))
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "illegal_transition",
			Message: err.Error(),
			Hint:    "States advance at_yard -> loading -> ready_to_depart -> departed -> at_yard.",
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, APIError{
			Code:    "unauthorized",
			Message: err.Error(),
			Hint:    "Send the configured secret in the " + RolloverSecretHeader + " header.",
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Trailing payloads fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
