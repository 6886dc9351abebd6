package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"LnSPoll/config"
	"LnSPoll/model"

	"cloud.google.com/go/firestore"
	"github.com/cenkalti/backoff/v5"
)

func sampleResponse(id string, at time.Time) *model.Response {
	return &model.Response{
		ParticipantID: id,
		SubmittedAt:   at,
		Intake:        model.Intake{Age: 30, MotherTongue: "Tamil", LanguageCompetence: "French"},
		Clips: []model.ClipResponse{{
			ClipID:    1,
			FileName:  "news_clip_1.mp3",
			Category:  model.CategoryNewsClip,
			Ratings:   map[string]int{"naturalness": 4, "trustworthiness": 3},
			Ranking:   []string{"tone", "stress"},
			FollowUps: map[string]string{"tone_detail": "Warm"},
		}},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "data", "responses.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("empty store Count() = %d, %v", n, err)
	}

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3"} {
		if err := s.Save(ctx, sampleResponse(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 3 || all[0].ParticipantID != "p1" || all[2].ParticipantID != "p3" {
		t.Fatalf("unexpected responses %+v", all)
	}
	if got := all[1].Clips[0].Ratings["naturalness"]; got != 4 {
		t.Errorf("naturalness = %d, want 4", got)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count after DeleteAll = %d", n)
	}
}

func TestFileStoreConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "responses.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Save(ctx, sampleResponse("p", time.Now())); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n, err := s.Count(ctx); err != nil || n != 20 {
		t.Errorf("Count() = %d, %v; want 20", n, err)
	}
}

// flakyStore fails the first failures calls of every method.
type flakyStore struct {
	mu        sync.Mutex
	failures  int
	permanent bool
	calls     int
	saved     []*model.Response
}

var errFlaky = errors.New("backend unavailable")

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		if f.permanent {
			return backoff.Permanent(errFlaky)
		}
		return errFlaky
	}
	return nil
}

func (f *flakyStore) Name() string  { return "flaky" }
func (f *flakyStore) Close() error { return nil }

func (f *flakyStore) Save(ctx context.Context, r *model.Response) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *flakyStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.saved, nil
}

func (f *flakyStore) Count(ctx context.Context) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return len(f.saved), nil
}

func (f *flakyStore) DeleteAll(ctx context.Context) error { return f.fail() }

func fastPolicy(tries uint) RetryPolicy {
	return RetryPolicy{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: time.Second}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyStore{failures: 2}
	s := WithRetry(inner, fastPolicy(3))

	if err := s.Save(context.Background(), sampleResponse("p1", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if inner.calls != 3 || len(inner.saved) != 1 {
		t.Errorf("calls = %d, saved = %d; want 3 and 1", inner.calls, len(inner.saved))
	}
	if s.Name() != "flaky" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestRetrySurfacesFinalError(t *testing.T) {
	inner := &flakyStore{failures: 10}
	s := WithRetry(inner, fastPolicy(3))

	_, err := s.Count(context.Background())
	if !errors.Is(err, errFlaky) {
		t.Fatalf("Count() error = %v, want errFlaky", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	inner := &flakyStore{failures: 10}
	s := WithRetry(inner, fastPolicy(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.DeleteAll(ctx); err == nil {
		t.Fatal("expected an error")
	}
	if inner.calls > 1 {
		t.Errorf("calls = %d, want at most 1 after cancellation", inner.calls)
	}
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, &config.Config{StoreBackend: "pickle", StoreRetries: 1})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("unknown backend: got %v, want ErrUnknownBackend", err)
	}

	s, err := Open(ctx, &config.Config{
		StoreBackend: "file",
		ResponseFile: filepath.Join(t.TempDir(), "r.jsonl"),
		StoreRetries: 1,
	})
	if err != nil {
		t.Fatalf("Open(file): %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("single attempt should return the bare store, got %T", s)
	}

	s, err = Open(ctx, &config.Config{
		StoreBackend: "file",
		ResponseFile: filepath.Join(t.TempDir(), "r.jsonl"),
		StoreRetries: 3,
	})
	if err != nil {
		t.Fatalf("Open(file, retries): %v", err)
	}
	if _, ok := s.(*retryStore); !ok {
		t.Errorf("expected retry wrapper, got %T", s)
	}
}

func TestSheetRow(t *testing.T) {
	r := sampleResponse("p9", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	row, err := SheetRow(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != len(sheetHeader) {
		t.Fatalf("row has %d columns, header has %d", len(row), len(sheetHeader))
	}
	if row[0] != "2025-01-02T03:04:05Z" || row[1] != "p9" || row[5] != "Tamil" {
		t.Errorf("unexpected leading columns %v", row[:6])
	}
	if got := row[8].(string); got != "news_clip_1.mp3: naturalness=4, trustworthiness=3" {
		t.Errorf("ratings column = %q", got)
	}
	if got := row[9].(string); got != "news_clip_1.mp3: tone > stress" {
		t.Errorf("rankings column = %q", got)
	}
	if payload := row[11].(string); !strings.Contains(payload, `"participantId":"p9"`) {
		t.Errorf("payload column = %q", payload)
	}
}

func TestSQLRowMapping(t *testing.T) {
	r := sampleResponse("p5", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	back := rowFromResponse(r).toResponse()
	if back.ParticipantID != "p5" || back.Intake.MotherTongue != "Tamil" || len(back.Clips) != 1 {
		t.Errorf("row mapping lost data: %+v", back)
	}
	if back.Clips[0].FollowUps["tone_detail"] != "Warm" {
		t.Errorf("follow-ups lost: %+v", back.Clips[0])
	}
}

func TestFileStoreSkipsTornLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "responses.jsonl")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, sampleResponse("p1", base)); err != nil {
		t.Fatal(err)
	}

	// 模拟写到一半被中断的记录
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"participantId":"p2","submitt`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll with a torn tail: %v", err)
	}
	if len(all) != 1 || all[0].ParticipantID != "p1" {
		t.Fatalf("unexpected responses %+v", all)
	}

	if err := s.Save(ctx, sampleResponse("p3", base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	all, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1].ParticipantID != "p3" {
		t.Fatalf("save after a torn tail: got %+v", all)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	inner := &flakyStore{failures: 10, permanent: true}
	s := WithRetry(inner, fastPolicy(5))

	err := s.Save(context.Background(), sampleResponse("p1", time.Now()))
	if !errors.Is(err, errFlaky) {
		t.Fatalf("Save() error = %v, want errFlaky", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

type fakeBulkJob struct{ err error }

func (j fakeBulkJob) Results() (*firestore.WriteResult, error) {
	if j.err != nil {
		return nil, j.err
	}
	return &firestore.WriteResult{}, nil
}

func TestFirstFailedDelete(t *testing.T) {
	denied := errors.New("permission denied")
	tests := []struct {
		name    string
		jobs    []queuedDelete
		wantErr error
		wantID  string
	}{
		{"none", nil, nil, ""},
		{"all ok", []queuedDelete{{"a", fakeBulkJob{}}, {"b", fakeBulkJob{}}}, nil, ""},
		{"one failed", []queuedDelete{{"a", fakeBulkJob{}}, {"b", fakeBulkJob{denied}}, {"c", fakeBulkJob{}}}, denied, "b"},
		{"first failure wins", []queuedDelete{{"a", fakeBulkJob{denied}}, {"b", fakeBulkJob{errFlaky}}}, denied, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := firstFailedDelete(tt.jobs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("firstFailedDelete() = %v, want %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "document "+tt.wantID+":") {
				t.Errorf("error %q does not name document %s", err, tt.wantID)
			}
		})
	}
}
