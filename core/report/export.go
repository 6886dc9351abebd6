package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"LnSPoll/core/questions"
	"LnSPoll/model"
)

// Export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	if format == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Filename builds a timestamped download name.
func Filename(format string, now time.Time) string {
	return fmt.Sprintf("survey_responses_%s.%s", now.Format("20060102_150405"), format)
}

// Write exports responses in the given format.
func Write(w io.Writer, format string, responses []*model.Response, q *questions.Catalogue) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, responses, q)
	case FormatJSON:
		return WriteJSON(w, responses)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteJSON writes the responses as an indented array.
func WriteJSON(w io.Writer, responses []*model.Response) error {
	if responses == nil {
		responses = []*model.Response{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(responses)
}

// CSVHeader lists the export columns: one row per participant and clip.
func CSVHeader(q *questions.Catalogue) []string {
	header := []string{
		"participant_id", "submitted_at", "age", "gender", "education",
		"mother_tongue", "language_competence",
		"clip_id", "file_name", "category", "clip_language",
	}
	for _, id := range q.RatingIDs() {
		header = append(header, "rating_"+id)
	}
	for _, id := range q.FeatureIDs() {
		header = append(header, "rank_"+id)
	}
	for _, id := range q.FollowUpIDs() {
		header = append(header, "followup_"+id)
	}
	return header
}

// WriteCSV flattens responses to one row per answered clip.
func WriteCSV(w io.Writer, responses []*model.Response, q *questions.Catalogue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader(q)); err != nil {
		return err
	}

	ratingIDs, featureIDs, followIDs := q.RatingIDs(), q.FeatureIDs(), q.FollowUpIDs()
	for _, r := range responses {
		for _, c := range r.Clips {
			row := []string{
				r.ParticipantID,
				r.SubmittedAt.UTC().Format(time.RFC3339),
				strconv.Itoa(r.Intake.Age),
				r.Intake.Gender,
				r.Intake.Education,
				r.Intake.MotherTongue,
				r.Intake.LanguageCompetence,
				strconv.Itoa(c.ClipID),
				c.FileName,
				string(c.Category),
				c.Language,
			}
			for _, id := range ratingIDs {
				if v, ok := c.Ratings[id]; ok {
					row = append(row, strconv.Itoa(v))
				} else {
					row = append(row, "")
				}
			}
			for _, id := range featureIDs {
				if rank := c.RankOf(id); rank > 0 {
					row = append(row, strconv.Itoa(rank))
				} else {
					row = append(row, "")
				}
			}
			for _, id := range followIDs {
				row = append(row, c.FollowUps[id])
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
