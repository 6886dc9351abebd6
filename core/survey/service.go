// Package survey drives one participant through intake, the assigned clips
// and the final submission.
package survey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"LnSPoll/cache"
	"LnSPoll/core/allocator"
	"LnSPoll/core/catalogue"
	"LnSPoll/core/questions"
	"LnSPoll/logger"
	"LnSPoll/model"
	"LnSPoll/storage"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("survey session not found")
	ErrOutOfOrder      = errors.New("clip answered out of order")
	ErrIncomplete      = errors.New("survey has unanswered clips")
	ErrInvalidIntake   = errors.New("invalid intake")
	ErrNoAudio         = errors.New("no audio files found")
)

// Age bounds accepted at intake.
const (
	MinAge = 13
	MaxAge = 100
)

// ClipAnswer is what a participant submits for one clip.
type ClipAnswer struct {
	Ratings   map[string]int    `json:"ratings"`
	Ranking   []string          `json:"ranking"`
	FollowUps map[string]string `json:"followUps"`
}

// Options wires a Service. Allocator and Now are optional.
type Options struct {
	Catalogue     catalogue.Provider
	Questions     *questions.Catalogue
	Sessions      cache.SessionStore
	Store         storage.Store
	Allocator     *allocator.Allocator
	GeneralQuota  int
	LanguageQuota int
	Now           func() time.Time
	// OnSaved runs after a response has been persisted.
	OnSaved func(*model.Response)
}

// Service is safe for concurrent use. Calls for the same session are serialised.
type Service struct {
	opts Options

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock is dropped from Service.locks once no caller holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewService 创建问卷服务
func NewService(opts Options) *Service {
	if opts.Allocator == nil {
		opts.Allocator = allocator.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Questions == nil {
		opts.Questions = questions.Default()
	}
	return &Service{opts: opts, locks: make(map[string]*sessionLock)}
}

// Questions returns the active question catalogue.
func (s *Service) Questions() *questions.Catalogue {
	return s.opts.Questions
}

func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// ValidateIntake normalises and checks the demographic answers.
func ValidateIntake(in model.Intake) (model.Intake, error) {
	in.MotherTongue = strings.TrimSpace(in.MotherTongue)
	in.LanguageCompetence = strings.TrimSpace(in.LanguageCompetence)
	in.Gender = strings.TrimSpace(in.Gender)
	in.Education = strings.TrimSpace(in.Education)

	if in.Age < MinAge || in.Age > MaxAge {
		return in, fmt.Errorf("%w: age must be between %d and %d", ErrInvalidIntake, MinAge, MaxAge)
	}
	if in.MotherTongue == "" {
		return in, fmt.Errorf("%w: mother tongue is required", ErrInvalidIntake)
	}
	if allocator.IsSentinel(in.LanguageCompetence) {
		in.LanguageCompetence = ""
	}
	return in, nil
}

// Start validates the intake, allocates clips and opens a session.
func (s *Service) Start(ctx context.Context, intake model.Intake) (*model.SurveySession, error) {
	intake, err := ValidateIntake(intake)
	if err != nil {
		return nil, err
	}

	cat, err := s.opts.Catalogue.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan catalogue: %w", err)
	}
	assignment := s.opts.Allocator.Allocate(cat, intake.Profile(), s.opts.GeneralQuota, s.opts.LanguageQuota)
	if assignment.Len() == 0 {
		return nil, ErrNoAudio
	}

	now := s.opts.Now().UTC()
	session := &model.SurveySession{
		ID:            uuid.NewString(),
		ParticipantID: uuid.NewString(),
		Intake:        intake,
		Assignment:    assignment,
		Stage:         model.StageClips,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.opts.Sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	logger.Info("[Survey] session started",
		logger.String("session", session.ID),
		logger.Int("clips", assignment.Len()),
		logger.Int("general", assignment.GeneralCount),
		logger.String("language", assignment.Language))
	return session, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id string) (*model.SurveySession, error) {
	session, err := s.opts.Sessions.Get(ctx, id)
	if errors.Is(err, cache.ErrSessionMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

// SubmitClip records the answers for the next clip in order.
func (s *Service) SubmitClip(ctx context.Context, id string, clipID int, ans ClipAnswer) (*model.SurveySession, error) {
	defer s.lock(id)()

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := session.NextClipID()
	if next == 0 || clipID != next {
		return nil, fmt.Errorf("%w: expected clip %d, got %d", ErrOutOfOrder, next, clipID)
	}
	clip, _ := session.Assignment.Clip(clipID)

	if err := s.opts.Questions.ValidateClip(ans.Ratings, ans.Ranking, ans.FollowUps); err != nil {
		return nil, err
	}

	followUps := make(map[string]string, len(ans.FollowUps))
	for k, v := range ans.FollowUps {
		if v = strings.TrimSpace(v); v != "" {
			followUps[k] = v
		}
	}
	session.Answers = append(session.Answers, model.ClipResponse{
		ClipID:    clipID,
		FileName:  clip.File.FileName(),
		Category:  clip.File.Category,
		Language:  clip.File.Language,
		Ratings:   ans.Ratings,
		Ranking:   ans.Ranking,
		FollowUps: followUps,
	})
	if session.NextClipID() == 0 {
		session.Stage = model.StageReview
	}
	session.UpdatedAt = s.opts.Now().UTC()

	if err := s.opts.Sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return session, nil
}

// Finish persists the response and closes the session. If the store fails
// the session is kept so the participant can retry.
func (s *Service) Finish(ctx context.Context, id string) (*model.Response, error) {
	defer s.lock(id)()

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.NextClipID() != 0 {
		return nil, fmt.Errorf("%w: %d of %d answered", ErrIncomplete, len(session.Answers), session.Assignment.Len())
	}

	resp := session.ToResponse(s.opts.Now().UTC())
	if err := s.opts.Store.Save(ctx, resp); err != nil {
		logger.Error("[Survey] failed to save response",
			logger.String("session", id),
			logger.String("backend", s.opts.Store.Name()),
			logger.ErrorField(err))
		return nil, fmt.Errorf("save response: %w", err)
	}

	if err := s.opts.Sessions.Delete(ctx, id); err != nil {
		logger.Warn("[Survey] failed to delete finished session", logger.String("session", id), logger.ErrorField(err))
	}

	logger.Info("[Survey] response saved",
		logger.String("participant", resp.ParticipantID),
		logger.Int("clips", len(resp.Clips)))
	if s.opts.OnSaved != nil {
		s.opts.OnSaved(resp)
	}
	return resp, nil
}
