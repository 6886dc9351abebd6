package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"LnSPoll/model"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// sheetHeader is written to row 1 the first time a sheet is used. The last
// column carries the full JSON record, which is what LoadAll reads back.
var sheetHeader = []interface{}{
	"timestamp", "participant_id", "age", "gender", "education",
	"mother_tongue", "language_competence", "clips",
	"ratings", "rankings", "follow_ups", "payload",
}

// SheetsStore appends one row per response to a Google spreadsheet.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string

	headerMu    sync.Mutex
	headerReady bool
}

// NewSheetsStore authenticates with a service account file, or with
// application default credentials when credFile is empty.
func NewSheetsStore(ctx context.Context, credFile, spreadsheetID, sheet string) (*SheetsStore, error) {
	var opts []option.ClientOption
	if credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}, nil
}

func (s *SheetsStore) Name() string { return "sheets" }

func (s *SheetsStore) Close() error { return nil }

func (s *SheetsStore) rng(a1 string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.sheet, "'", "''"), a1)
}

func (s *SheetsStore) ensureHeader(ctx context.Context) error {
	s.headerMu.Lock()
	defer s.headerMu.Unlock()
	if s.headerReady {
		return nil
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A1:L1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read sheet header: %w", err)
	}
	if len(resp.Values) == 0 {
		_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, s.rng("A1"), &sheets.ValueRange{
			Values: [][]interface{}{sheetHeader},
		}).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write sheet header: %w", err)
		}
	}
	s.headerReady = true
	return nil
}

func (s *SheetsStore) Save(ctx context.Context, resp *model.Response) error {
	if err := s.ensureHeader(ctx); err != nil {
		return err
	}
	row, err := SheetRow(resp)
	if err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.rng("A1"), &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append sheet row: %w", err)
	}
	return nil
}

func (s *SheetsStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("L2:L")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	out := make([]*model.Response, 0, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		payload, ok := row[0].(string)
		if !ok || payload == "" {
			continue
		}
		var r model.Response
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode sheet row %d: %w", i+2, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *SheetsStore) Count(ctx context.Context) (int, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// DeleteAll clears every row below the header.
func (s *SheetsStore) DeleteAll(ctx context.Context) error {
	_, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, s.rng("A2:L"), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet rows: %w", err)
	}
	return nil
}

// SheetRow flattens a response into the column layout of sheetHeader.
func SheetRow(r *model.Response) ([]interface{}, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}

	var ratings, rankings, followUps []string
	for _, c := range r.Clips {
		ratings = append(ratings, fmt.Sprintf("%s: %s", c.FileName, joinInts(c.Ratings)))
		rankings = append(rankings, fmt.Sprintf("%s: %s", c.FileName, strings.Join(c.Ranking, " > ")))
		if len(c.FollowUps) > 0 {
			followUps = append(followUps, fmt.Sprintf("%s: %s", c.FileName, joinStrings(c.FollowUps)))
		}
	}

	return []interface{}{
		r.SubmittedAt.UTC().Format(time.RFC3339),
		r.ParticipantID,
		r.Intake.Age,
		r.Intake.Gender,
		r.Intake.Education,
		r.Intake.MotherTongue,
		r.Intake.LanguageCompetence,
		len(r.Clips),
		strings.Join(ratings, " | "),
		strings.Join(rankings, " | "),
		strings.Join(followUps, " | "),
		string(payload),
	}, nil
}

func joinInts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.Itoa(m[k])
	}
	return strings.Join(parts, ", ")
}

func joinStrings(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ", ")
}
