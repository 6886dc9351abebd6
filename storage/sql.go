package storage

import (
	"context"
	"fmt"
	"time"

	"LnSPoll/config"
	"LnSPoll/db"
	"LnSPoll/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResponseRow is the relational shape of a response. Demographics get their
// own columns; per-clip answers are kept as a JSON column.
type ResponseRow struct {
	ID                 uint      `gorm:"primaryKey"`
	ParticipantID      string    `gorm:"size:64;uniqueIndex"`
	SubmittedAt        time.Time `gorm:"index"`
	Age                int
	Gender             string `gorm:"size:64"`
	Education          string `gorm:"size:128"`
	MotherTongue       string `gorm:"size:64;index"`
	LanguageCompetence string `gorm:"size:64"`
	ClipCount          int
	Clips              datatypes.JSONType[[]model.ClipResponse]
	CreatedAt          time.Time
}

// TableName 指定表名
func (ResponseRow) TableName() string {
	return "survey_responses"
}

func rowFromResponse(r *model.Response) *ResponseRow {
	return &ResponseRow{
		ParticipantID:      r.ParticipantID,
		SubmittedAt:        r.SubmittedAt.UTC(),
		Age:                r.Intake.Age,
		Gender:             r.Intake.Gender,
		Education:          r.Intake.Education,
		MotherTongue:       r.Intake.MotherTongue,
		LanguageCompetence: r.Intake.LanguageCompetence,
		ClipCount:          len(r.Clips),
		Clips:              datatypes.NewJSONType(r.Clips),
	}
}

func (row *ResponseRow) toResponse() *model.Response {
	return &model.Response{
		ParticipantID: row.ParticipantID,
		SubmittedAt:   row.SubmittedAt,
		Intake: model.Intake{
			Age:                row.Age,
			Gender:             row.Gender,
			Education:          row.Education,
			MotherTongue:       row.MotherTongue,
			LanguageCompetence: row.LanguageCompetence,
		},
		Clips: row.Clips.Data(),
	}
}

// SQLStore keeps responses in MySQL or PostgreSQL through gorm.
type SQLStore struct {
	db     *gorm.DB
	driver string
}

// NewSQLStore migrates the response table on an existing connection.
func NewSQLStore(ctx context.Context, gdb *gorm.DB, driver string) (*SQLStore, error) {
	if err := gdb.WithContext(ctx).AutoMigrate(&ResponseRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate responses: %w", err)
	}
	return &SQLStore{db: gdb, driver: driver}, nil
}

// OpenSQLStore connects with the configured driver.
func OpenSQLStore(ctx context.Context, cfg *config.Config) (*SQLStore, error) {
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	return NewSQLStore(ctx, db.GormDB, cfg.DBDriver)
}

func (s *SQLStore) Name() string { return "sql/" + s.driver }

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Save(ctx context.Context, resp *model.Response) error {
	if err := s.db.WithContext(ctx).Create(rowFromResponse(resp)).Error; err != nil {
		return fmt.Errorf("insert response %s: %w", resp.ParticipantID, err)
	}
	return nil
}

func (s *SQLStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	var rows []ResponseRow
	if err := s.db.WithContext(ctx).Order("submitted_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	out := make([]*model.Response, len(rows))
	for i := range rows {
		out[i] = rows[i].toResponse()
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ResponseRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) DeleteAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ResponseRow{}).Error
	if err != nil {
		return fmt.Errorf("delete responses: %w", err)
	}
	return nil
}
