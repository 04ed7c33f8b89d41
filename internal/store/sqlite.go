package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
)

type programmeRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	ParcelID        int64     `gorm:"index"`
	PlannedAt       time.Time `gorm:"index"`
	DurationMinutes int
	VolumeLiters    float64
	Status          string `gorm:"size:16;index"`
	Version         int64
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
}

func (programmeRow) TableName() string { return "programmes" }

type journalRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	ProgrammeID     string    `gorm:"index;size:36"`
	ExecutedAt      time.Time `gorm:"index"`
	DeliveredLiters float64
	Remark          string
}

func (journalRow) TableName() string { return "journal_entries" }

func toRow(p irrigation.Programme) programmeRow {
	return programmeRow{
		ID:              p.ID,
		ParcelID:        p.ParcelID,
		PlannedAt:       p.PlannedAt.UTC(),
		DurationMinutes: p.DurationMinutes,
		VolumeLiters:    p.VolumeLiters,
		Status:          string(p.Status),
		Version:         p.Version,
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

// fromRow rejects rows whose status is outside the closed set.
func fromRow(r programmeRow) (irrigation.Programme, error) {
	st, err := irrigation.ParseStatus(r.Status)
	if err != nil {
		return irrigation.Programme{}, fmt.Errorf("programme %s: %w", r.ID, err)
	}
	return irrigation.Programme{
		ID:              r.ID,
		ParcelID:        r.ParcelID,
		PlannedAt:       r.PlannedAt.UTC(),
		DurationMinutes: r.DurationMinutes,
		VolumeLiters:    r.VolumeLiters,
		Status:          st,
		Version:         r.Version,
		UpdatedAt:       r.UpdatedAt.UTC(),
	}, nil
}

// SQLiteStore persists programmes and the journal with gorm on SQLite.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&programmeRow{}, &journalRow{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, p irrigation.Programme) (irrigation.Programme, error) {
	if err := p.Validate(); err != nil {
		return irrigation.Programme{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Version = 1
	p.UpdatedAt = s.now().UTC()

	row := toRow(p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return irrigation.Programme{}, fmt.Errorf("%w: id %s already exists", irrigation.ErrConflict, p.ID)
		}
		return irrigation.Programme{}, fmt.Errorf("create programme: %w", err)
	}
	return fromRow(row)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (irrigation.Programme, error) {
	var row programmeRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return irrigation.Programme{}, irrigation.ErrNotFound
		}
		return irrigation.Programme{}, fmt.Errorf("get programme: %w", err)
	}
	return fromRow(row)
}

// Save updates the row only where the version still matches, so two writers
// that read the same version cannot both succeed.
func (s *SQLiteStore) Save(ctx context.Context, p irrigation.Programme) (irrigation.Programme, error) {
	if _, err := irrigation.ParseStatus(string(p.Status)); err != nil {
		return irrigation.Programme{}, err
	}
	next := p
	next.Version = p.Version + 1
	next.UpdatedAt = s.now().UTC()
	row := toRow(next)

	res := s.db.WithContext(ctx).Model(&programmeRow{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]any{
			"parcel_id":        row.ParcelID,
			"planned_at":       row.PlannedAt,
			"duration_minutes": row.DurationMinutes,
			"volume_liters":    row.VolumeLiters,
			"status":           row.Status,
			"version":          row.Version,
			"updated_at":       row.UpdatedAt,
		})
	if res.Error != nil {
		return irrigation.Programme{}, fmt.Errorf("save programme: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, p.ID); err != nil {
			return irrigation.Programme{}, err
		}
		return irrigation.Programme{}, fmt.Errorf("%w: %s at version %d", irrigation.ErrConflict, p.ID, p.Version)
	}
	return fromRow(row)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&programmeRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete programme: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return irrigation.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]irrigation.Programme, error) {
	return s.find(s.db.WithContext(ctx))
}

func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]irrigation.Programme, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(irrigation.StatusPlanned),
			string(irrigation.StatusReplanned),
			string(irrigation.StatusAdjusted),
		}).
		Where("planned_at <= ?", now.UTC())
	return s.find(q)
}

func (s *SQLiteStore) ListInWindow(ctx context.Context, start, end time.Time) ([]irrigation.Programme, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(irrigation.StatusPlanned), string(irrigation.StatusReplanned)}).
		Where("planned_at >= ? AND planned_at <= ?", start.UTC(), end.UTC())
	return s.find(q)
}

func (s *SQLiteStore) find(q *gorm.DB) ([]irrigation.Programme, error) {
	var rows []programmeRow
	if err := q.Order("planned_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list programmes: %w", err)
	}
	out := make([]irrigation.Programme, 0, len(rows))
	for _, r := range rows {
		p, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e irrigation.JournalEntry) (irrigation.JournalEntry, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&programmeRow{}).Where("id = ?", e.ProgrammeID).Count(&count).Error; err != nil {
		return irrigation.JournalEntry{}, fmt.Errorf("append journal: %w", err)
	}
	if count == 0 {
		return irrigation.JournalEntry{}, irrigation.ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := journalRow{
		ID:              e.ID,
		ProgrammeID:     e.ProgrammeID,
		ExecutedAt:      e.ExecutedAt.UTC(),
		DeliveredLiters: e.DeliveredLiters,
		Remark:          e.Remark,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return irrigation.JournalEntry{}, fmt.Errorf("append journal: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) Journal(ctx context.Context, programmeID string) ([]irrigation.JournalEntry, error) {
	q := s.db.WithContext(ctx).Model(&journalRow{})
	if programmeID != "" {
		q = q.Where("programme_id = ?", programmeID)
	}
	var rows []journalRow
	if err := q.Order("executed_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	out := make([]irrigation.JournalEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, irrigation.JournalEntry{
			ID:              r.ID,
			ProgrammeID:     r.ProgrammeID,
			ExecutedAt:      r.ExecutedAt.UTC(),
			DeliveredLiters: r.DeliveredLiters,
			Remark:          r.Remark,
		})
	}
	return out, nil
}
