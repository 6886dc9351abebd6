package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"LnSPoll/core/survey"
	"LnSPoll/logger"
	"LnSPoll/model"

	"github.com/gorilla/mux"
)

// ClipView is a clip as shown to the participant.
type ClipView struct {
	ClipID   int    `json:"clipId"`
	FileName string `json:"fileName"`
	AudioURL string `json:"audioUrl"`
	Answered bool   `json:"answered"`
}

// SessionView is the participant-facing state of a survey session.
type SessionView struct {
	SessionID     string     `json:"sessionId"`
	ParticipantID string     `json:"participantId"`
	Stage         string     `json:"stage"`
	NextClipID    int        `json:"nextClipId"`
	Answered      int        `json:"answered"`
	Total         int        `json:"total"`
	Clips         []ClipView `json:"clips"`
	StartedAt     time.Time  `json:"startedAt"`
}

// audioURL escapes each path segment of a catalogue path.
func audioURL(relPath string) string {
	parts := strings.Split(relPath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/audio/" + strings.Join(parts, "/")
}

func newSessionView(s *model.SurveySession) SessionView {
	v := SessionView{
		SessionID:     s.ID,
		ParticipantID: s.ParticipantID,
		Stage:         s.Stage,
		NextClipID:    s.NextClipID(),
		Answered:      len(s.Answers),
		Total:         s.Assignment.Len(),
		Clips:         make([]ClipView, 0, s.Assignment.Len()),
		StartedAt:     s.StartedAt,
	}
	for _, c := range s.Assignment.Clips {
		v.Clips = append(v.Clips, ClipView{
			ClipID:   c.ClipID,
			FileName: c.File.FileName(),
			AudioURL: audioURL(c.File.Path),
			Answered: c.ClipID <= len(s.Answers),
		})
	}
	return v
}

// QuestionsHandler returns the question catalogue the client renders.
func (h *APIHandler) QuestionsHandler(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.survey.Questions())
}

// StartSurveyHandler validates the intake form and assigns clips.
func (h *APIHandler) StartSurveyHandler(w http.ResponseWriter, r *http.Request) {
	var intake model.Intake
	if err := ParseJSONBody(r, &intake); err != nil {
		ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.survey.Start(r.Context(), intake)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSONResponse(w, http.StatusCreated, newSessionView(session))
}

// GetSurveyHandler lets a participant resume after a reload.
func (h *APIHandler) GetSurveyHandler(w http.ResponseWriter, r *http.Request) {
	session, err := h.survey.Get(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, newSessionView(session))
}

// SubmitClipHandler records the answers for one clip.
func (h *APIHandler) SubmitClipHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clipID, err := strconv.Atoi(vars["clip"])
	if err != nil || clipID < 1 {
		ErrorResponse(w, http.StatusBadRequest, "clip id must be a positive integer")
		return
	}

	var ans survey.ClipAnswer
	if err := ParseJSONBody(r, &ans); err != nil {
		ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.survey.SubmitClip(r.Context(), vars["session"], clipID, ans)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, newSessionView(session))
}

// FinishSurveyHandler persists the completed response.
func (h *APIHandler) FinishSurveyHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := h.survey.Finish(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Debug("[Survey] finish acknowledged", logger.String("participant", resp.ParticipantID))
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"participantId": resp.ParticipantID,
		"submittedAt":   resp.SubmittedAt,
		"clips":         len(resp.Clips),
		"stage":         model.StageFinished,
	})
}
