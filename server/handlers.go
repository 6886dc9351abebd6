package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"LnSPoll/cache"
	"LnSPoll/core/auth"
	"LnSPoll/core/catalogue"
	"LnSPoll/core/questions"
	"LnSPoll/core/survey"
	"LnSPoll/logger"
	"LnSPoll/storage"
)

const maxBodyBytes = 1 << 20

// APIHandler 处理所有API请求
type APIHandler struct {
	survey    *survey.Service
	store     storage.Store
	sessions  cache.SessionStore
	catalogue catalogue.Provider
	audio     AudioSource
	auth      *auth.Authenticator
	feed      *FeedHub
	now       func() time.Time
}

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Survey    *survey.Service
	Store     storage.Store
	Sessions  cache.SessionStore
	Catalogue catalogue.Provider
	Audio     AudioSource
	Auth      *auth.Authenticator
	Feed      *FeedHub
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{
		survey:    d.Survey,
		store:     d.Store,
		sessions:  d.Sessions,
		catalogue: d.Catalogue,
		audio:     d.Audio,
		auth:      d.Auth,
		feed:      d.Feed,
		now:       time.Now,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSONResponse writes data as JSON with the given status.
func JSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("[HTTP] failed to encode response", logger.ErrorField(err))
	}
}

// ErrorResponse writes the uniform error body.
func ErrorResponse(w http.ResponseWriter, status int, message string) {
	JSONResponse(w, status, errorBody{Error: http.StatusText(status), Message: message})
}

// ParseJSONBody decodes a size-limited JSON request body into v.
func ParseJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeServiceError maps survey and validation errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, survey.ErrSessionNotFound):
		ErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, survey.ErrOutOfOrder), errors.Is(err, survey.ErrIncomplete):
		ErrorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, survey.ErrInvalidIntake), errors.Is(err, questions.ErrInvalidAnswer):
		ErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, survey.ErrNoAudio):
		ErrorResponse(w, http.StatusServiceUnavailable, "no audio clips are available right now")
	default:
		logger.Error("[HTTP] request failed", logger.ErrorField(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal server error")
	}
}

// HealthHandler reports liveness and the response count.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"backend": h.store.Name(),
	}
	if n, err := h.store.Count(r.Context()); err != nil {
		body["status"] = "degraded"
		body["error"] = err.Error()
	} else {
		body["responses"] = n
	}
	JSONResponse(w, http.StatusOK, body)
}
