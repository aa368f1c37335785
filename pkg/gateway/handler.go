package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// maxRequestBody caps request body reads. Authentication payloads are a
// provider token plus a few short strings; anything larger is abuse.
const maxRequestBody = 1 << 20

// failureResponse is the envelope returned for every failed request.
type failureResponse struct {
	Error   bool   `json:"error"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Handler exposes the authentication pipeline over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewHandler creates the HTTP handler. A nil logger falls back to
// slog.Default.
func NewHandler(orchestrator *Orchestrator, logger *slog.Logger) (*Handler, error) {
	if orchestrator == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"gateway: orchestrator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orchestrator: orchestrator, logger: logger}, nil
}

// Register mounts the authentication routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/external", h.handleExternal)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
}

// handleExternal serves the external login path (Microsoft and Google).
func (h *Handler) handleExternal(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	resp, err := h.orchestrator.Authenticate(r.Context(), req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleLogin serves the local/ERP login path.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	resp, err := h.orchestrator.AuthenticateLocal(r.Context(), req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// decode reads and unmarshals the request body, writing the failure
// envelope itself when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeFailure(w, r, gwerr.Wrap(err, gwerr.CodeValidationFormat,
			"request body is not valid JSON"))
		return false
	}
	return true
}

// writeFailure is the single point translating pipeline errors into HTTP
// status codes and the client-facing envelope. Error messages are
// client-safe by construction; internal detail lives in wrapped causes,
// which never serialize.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	gwError, ok := gwerr.AsError(err)
	if !ok {
		gwError = gwerr.Wrap(err, gwerr.CodeInternal, "internal error")
	}
	status := gwError.HTTPStatus()

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected",
			"path", r.URL.Path, "status", status, "error", err)
	}

	h.writeJSON(w, r, status, failureResponse{
		Error:   true,
		Status:  status,
		Message: gwError.Message,
	})
}

// writeJSON serializes the payload with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.ErrorContext(r.Context(), "response encoding failed", "error", err)
	}
}
