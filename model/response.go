package model

import "time"

// Intake holds the demographic answers collected before any clip is played.
type Intake struct {
	Age                int    `json:"age"`
	Gender             string `json:"gender,omitempty"`
	Education          string `json:"education,omitempty"`
	MotherTongue       string `json:"motherTongue"`
	LanguageCompetence string `json:"languageCompetence,omitempty"`
}

// Profile returns the part of the intake the allocator cares about.
func (i Intake) Profile() ParticipantProfile {
	return ParticipantProfile{
		MotherTongue:       i.MotherTongue,
		LanguageCompetence: i.LanguageCompetence,
	}
}

// ClipResponse is everything a participant answered about a single clip.
type ClipResponse struct {
	ClipID    int               `json:"clipId"`
	FileName  string            `json:"fileName"`
	Category  Category          `json:"category"`
	Language  string            `json:"language,omitempty"`
	Ratings   map[string]int    `json:"ratings"`   // question id -> scale value
	Ranking   []string          `json:"ranking"`   // feature ids, most influential first
	FollowUps map[string]string `json:"followUps"` // follow-up question id -> answer
}

// RankOf returns the 1-based position of feature in the ranking, or 0.
func (c ClipResponse) RankOf(feature string) int {
	for i, f := range c.Ranking {
		if f == feature {
			return i + 1
		}
	}
	return 0
}

// Response is one participant's completed survey.
type Response struct {
	ParticipantID string         `json:"participantId"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	Intake        Intake         `json:"intake"`
	Clips         []ClipResponse `json:"clips"`
}
