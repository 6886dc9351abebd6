package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"LnSPoll/core/report"
	"LnSPoll/logger"
	"LnSPoll/model"
)

// loadResponses reads every stored response and applies the ?from=&to= filter.
func (h *APIHandler) loadResponses(w http.ResponseWriter, r *http.Request) ([]*model.Response, bool) {
	q := r.URL.Query()
	rng, err := report.ParseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "dates must use the YYYY-MM-DD format")
		return nil, false
	}

	all, err := h.store.LoadAll(r.Context())
	if err != nil {
		logger.Error("[Admin] failed to load responses", logger.String("backend", h.store.Name()), logger.ErrorField(err))
		ErrorResponse(w, http.StatusBadGateway, "failed to load responses from "+h.store.Name())
		return nil, false
	}
	return report.Filter(all, rng), true
}

// SummaryHandler returns the headline numbers of the dashboard.
func (h *APIHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	responses, ok := h.loadResponses(w, r)
	if !ok {
		return
	}

	active, err := h.sessions.Active(r.Context())
	if err != nil {
		logger.Warn("[Admin] failed to count active sessions", logger.ErrorField(err))
		active = -1
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"summary":        report.Summarize(responses, h.now()),
		"activeSessions": active,
		"backend":        h.store.Name(),
	})
}

// ClipStatsHandler returns per-file rating averages.
func (h *APIHandler) ClipStatsHandler(w http.ResponseWriter, r *http.Request) {
	responses, ok := h.loadResponses(w, r)
	if !ok {
		return
	}
	JSONResponse(w, http.StatusOK, report.ClipStats(responses))
}

// RankingsHandler returns feature rankings, most influential first.
func (h *APIHandler) RankingsHandler(w http.ResponseWriter, r *http.Request) {
	responses, ok := h.loadResponses(w, r)
	if !ok {
		return
	}
	JSONResponse(w, http.StatusOK, report.Rankings(responses, h.survey.Questions().FeatureIDs()))
}

// FollowUpsHandler tallies follow-up answers.
func (h *APIHandler) FollowUpsHandler(w http.ResponseWriter, r *http.Request) {
	responses, ok := h.loadResponses(w, r)
	if !ok {
		return
	}
	JSONResponse(w, http.StatusOK, report.FollowUps(responses, h.survey.Questions()))
}

// ExportHandler downloads the filtered responses as CSV or JSON.
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatCSV
	}
	if format != report.FormatCSV && format != report.FormatJSON {
		ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
		return
	}

	responses, ok := h.loadResponses(w, r)
	if !ok {
		return
	}

	// 先写入缓冲区，失败时仍可返回错误状态
	var buf bytes.Buffer
	if err := report.Write(&buf, format, responses, h.survey.Questions()); err != nil {
		logger.Error("[Admin] export failed", logger.ErrorField(err))
		ErrorResponse(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(format, h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ClearResponsesHandler deletes every stored response. It requires ?confirm=true.
func (h *APIHandler) ClearResponsesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		ErrorResponse(w, http.StatusBadRequest, "add confirm=true to delete all responses")
		return
	}

	before, _ := h.store.Count(r.Context())
	if err := h.store.DeleteAll(r.Context()); err != nil {
		logger.Error("[Admin] failed to clear responses", logger.String("backend", h.store.Name()), logger.ErrorField(err))
		ErrorResponse(w, http.StatusBadGateway, "failed to clear responses")
		return
	}

	subject := ""
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}
	logger.Warn("[Admin] all responses deleted",
		logger.String("by", subject),
		logger.String("backend", h.store.Name()),
		logger.Int("deleted", before))
	h.feed.Publish(EventResponsesCleared, map[string]int{"deleted": before})

	JSONResponse(w, http.StatusOK, map[string]int{"deleted": before})
}

// CatalogueHandler rescans the audio catalogue.
func (h *APIHandler) CatalogueHandler(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalogue.Scan(r.Context())
	if err != nil {
		logger.Error("[Admin] catalogue scan failed", logger.ErrorField(err))
		ErrorResponse(w, http.StatusBadGateway, "failed to scan the audio catalogue")
		return
	}
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"size":      cat.Size(),
		"catalogue": cat,
	})
}

// FeedHandler upgrades an authenticated dashboard to the live event feed.
func (h *APIHandler) FeedHandler(w http.ResponseWriter, r *http.Request) {
	h.feed.ServeWS(w, r)
}
