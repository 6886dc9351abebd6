package model

import "time"

// Survey stages
const (
	StageClips    = "clips"    // answering clips in order
	StageReview   = "review"   // all clips answered, waiting for finish
	StageFinished = "finished" // response persisted
)

// SurveySession is the per-participant state kept between requests.
// The assignment is fixed at creation and never changes afterwards.
type SurveySession struct {
	ID            string         `json:"id"`
	ParticipantID string         `json:"participantId"`
	Intake        Intake         `json:"intake"`
	Assignment    ClipAssignment `json:"assignment"`
	Answers       []ClipResponse `json:"answers"`
	Stage         string         `json:"stage"`
	StartedAt     time.Time      `json:"startedAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// NextClipID returns the id of the next unanswered clip, or 0 when all are answered.
func (s *SurveySession) NextClipID() int {
	if len(s.Answers) >= s.Assignment.Len() {
		return 0
	}
	return len(s.Answers) + 1
}

// ToResponse builds the persisted record from a completed session.
func (s *SurveySession) ToResponse(submittedAt time.Time) *Response {
	clips := make([]ClipResponse, len(s.Answers))
	copy(clips, s.Answers)
	return &Response{
		ParticipantID: s.ParticipantID,
		SubmittedAt:   submittedAt,
		Intake:        s.Intake,
		Clips:         clips,
	}
}
