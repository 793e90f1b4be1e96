package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"postcraft/pkg/domain"
)

const migrateLockID int64 = 51120417

type GormStoreOptions struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithSlowThreshold sets the duration after which queries are logged as slow.
func WithSlowThreshold(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SlowThreshold = d
	}
}

// WithLogLevel overrides the gorm log level.
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{SlowThreshold: time.Second, LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}, &GenerationModel{}, &GenerationIndexModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'account_models'
					AND constraint_name = 'account_models_credits_nonnegative'
				) THEN
					ALTER TABLE account_models
					ADD CONSTRAINT account_models_credits_nonnegative CHECK (credits >= 0);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure credit constraint: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InTx runs fn inside one database transaction. Rows read through the Tx
// are locked until commit.
func (s *GormStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockAccount(seed domain.Account) (domain.Account, bool, error) {
	model := accountToModel(seed)
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Account{}, false, res.Error
	}
	created := res.RowsAffected == 1

	var locked AccountModel
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&locked, "uid = ?", seed.UID).Error; err != nil {
		return domain.Account{}, false, err
	}
	return accountFromModel(locked), created, nil
}

func (t *gormTx) SaveAccount(a domain.Account) error {
	model := accountToModel(a)
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "credits", "free_trial_used", "plan", "updated_at"}),
	}).Create(&model).Error
}

func (t *gormTx) LockGeneration(id string) (domain.Generation, bool, error) {
	var model GenerationModel
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Generation{}, false, nil
		}
		return domain.Generation{}, false, err
	}
	g, err := generationFromModel(model)
	if err != nil {
		return domain.Generation{}, false, err
	}
	return g, true, nil
}

func (t *gormTx) SaveGeneration(g domain.Generation) error {
	return saveGeneration(t.db, g)
}

var generationColumns = []string{
	"status", "stage", "error", "input", "reference_stats", "style_profile",
	"output", "used_free_trial", "refunded", "updated_at",
}

var generationIndexColumns = []string{
	"platform", "purpose", "topic", "keywords", "length", "extra_prompt",
	"references_provided", "title_candidate", "status", "error", "stage",
}

// saveGeneration writes the full record and its index on db, which must
// already be a transaction when both rows need to land together.
func saveGeneration(db *gorm.DB, g domain.Generation) error {
	model, err := generationToModel(g)
	if err != nil {
		return err
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(generationColumns),
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	return saveIndex(db, domain.IndexOf(g))
}

func saveIndex(db *gorm.DB, idx domain.GenerationIndex) error {
	model, err := indexToModel(idx)
	if err != nil {
		return err
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(generationIndexColumns),
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("save generation index: %w", err)
	}
	return nil
}

// GetAccount returns an account by uid.
func (s *GormStore) GetAccount(ctx context.Context, uid string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, "uid = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// SaveGeneration stores both projections of g atomically.
func (s *GormStore) SaveGeneration(ctx context.Context, g domain.Generation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveGeneration(tx, g)
	})
}

// GetGeneration retrieves the full record.
func (s *GormStore) GetGeneration(ctx context.Context, id string) (domain.Generation, bool, error) {
	var model GenerationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Generation{}, false, nil
		}
		return domain.Generation{}, false, err
	}
	g, err := generationFromModel(model)
	if err != nil {
		return domain.Generation{}, false, err
	}
	return g, true, nil
}

// GetGenerationIndex retrieves the per-user projection.
func (s *GormStore) GetGenerationIndex(ctx context.Context, id string) (domain.GenerationIndex, bool, error) {
	var model GenerationIndexModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GenerationIndex{}, false, nil
		}
		return domain.GenerationIndex{}, false, err
	}
	return indexFromModel(model), true, nil
}

// SaveGenerationIndex upserts only the index row.
func (s *GormStore) SaveGenerationIndex(ctx context.Context, idx domain.GenerationIndex) error {
	return saveIndex(s.db.WithContext(ctx), idx)
}

// ListGenerations returns a user's index rows, newest first.
func (s *GormStore) ListGenerations(ctx context.Context, uid string, after *Cursor, limit int) ([]domain.GenerationIndex, error) {
	if limit <= 0 {
		limit = 20
	}
	tx := s.db.WithContext(ctx).Where("uid = ?", uid)
	if after != nil {
		tx = tx.Where("(created_at < ?) OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	var models []GenerationIndexModel
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.GenerationIndex, 0, len(models))
	for _, m := range models {
		items = append(items, indexFromModel(m))
	}
	return items, nil
}

// DeleteGeneration removes both projections.
func (s *GormStore) DeleteGeneration(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&GenerationIndexModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&GenerationModel{}, "id = ?", id).Error
	})
}

// ListStalePending returns pending jobs created before the cutoff.
func (s *GormStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []GenerationModel
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.StatusPending), before.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Generation, 0, len(models))
	for _, m := range models {
		g, err := generationFromModel(m)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, nil
}

// FailPending marks a pending job failed in both projections.
func (s *GormStore) FailPending(ctx context.Context, id string, stage domain.Stage, msg string) (bool, error) {
	var moved bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&GenerationModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusPending)).
			Updates(map[string]any{
				"status":     string(domain.StatusFailed),
				"stage":      string(stage),
				"error":      msg,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		moved = true
		return tx.Model(&GenerationIndexModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status": string(domain.StatusFailed),
				"stage":  string(stage),
				"error":  msg,
			}).Error
	})
	return moved, err
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		UID:           a.UID,
		Email:         a.Email,
		Credits:       a.Credits,
		FreeTrialUsed: a.FreeTrialUsed,
		Plan:          a.Plan,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		UID:           m.UID,
		Email:         m.Email,
		Credits:       m.Credits,
		FreeTrialUsed: m.FreeTrialUsed,
		Plan:          m.Plan,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func generationToModel(g domain.Generation) (GenerationModel, error) {
	input, err := json.Marshal(g.Input)
	if err != nil {
		return GenerationModel{}, fmt.Errorf("encode input: %w", err)
	}
	stats, err := json.Marshal(g.ReferenceStats)
	if err != nil {
		return GenerationModel{}, fmt.Errorf("encode reference stats: %w", err)
	}
	model := GenerationModel{
		ID:             g.ID,
		UID:            g.UID,
		Platform:       string(g.Input.Platform),
		Status:         string(g.Status),
		Stage:          string(g.Stage),
		Error:          g.Error,
		Input:          datatypes.JSON(input),
		ReferenceStats: datatypes.JSON(stats),
		UsedFreeTrial:  g.UsedFreeTrial,
		Refunded:       g.Refunded,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
	if g.StyleProfile != nil {
		raw, err := json.Marshal(g.StyleProfile)
		if err != nil {
			return GenerationModel{}, fmt.Errorf("encode style profile: %w", err)
		}
		model.StyleProfile = datatypes.JSON(raw)
	}
	if g.Output != nil {
		raw, err := json.Marshal(g.Output)
		if err != nil {
			return GenerationModel{}, fmt.Errorf("encode output: %w", err)
		}
		model.Output = datatypes.JSON(raw)
	}
	return model, nil
}

func generationFromModel(m GenerationModel) (domain.Generation, error) {
	g := domain.Generation{
		ID:            m.ID,
		UID:           m.UID,
		Status:        domain.GenerationStatus(m.Status),
		Stage:         domain.Stage(m.Stage),
		Error:         m.Error,
		UsedFreeTrial: m.UsedFreeTrial,
		Refunded:      m.Refunded,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if err := json.Unmarshal(m.Input, &g.Input); err != nil {
		return domain.Generation{}, fmt.Errorf("decode input %s: %w", m.ID, err)
	}
	if len(m.ReferenceStats) > 0 {
		if err := json.Unmarshal(m.ReferenceStats, &g.ReferenceStats); err != nil {
			return domain.Generation{}, fmt.Errorf("decode reference stats %s: %w", m.ID, err)
		}
	}
	if isJSONValue(m.StyleProfile) {
		var profile domain.StyleProfile
		if err := json.Unmarshal(m.StyleProfile, &profile); err != nil {
			return domain.Generation{}, fmt.Errorf("decode style profile %s: %w", m.ID, err)
		}
		g.StyleProfile = &profile
	}
	if isJSONValue(m.Output) {
		out, err := domain.RestoreOutput(domain.Platform(m.Platform), m.Output)
		if err != nil {
			return domain.Generation{}, fmt.Errorf("decode output %s: %w", m.ID, err)
		}
		g.Output = &out
	}
	return g, nil
}

func isJSONValue(raw datatypes.JSON) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func indexToModel(idx domain.GenerationIndex) (GenerationIndexModel, error) {
	keywords, err := json.Marshal(idx.Keywords)
	if err != nil {
		return GenerationIndexModel{}, fmt.Errorf("encode keywords: %w", err)
	}
	return GenerationIndexModel{
		ID:                 idx.ID,
		UID:                idx.UID,
		Platform:           string(idx.Platform),
		Purpose:            idx.Purpose,
		Topic:              idx.Topic,
		Keywords:           datatypes.JSON(keywords),
		Length:             idx.Length,
		ExtraPrompt:        idx.ExtraPrompt,
		ReferencesProvided: idx.ReferencesProvided,
		TitleCandidate:     idx.TitleCandidate,
		Status:             string(idx.Status),
		Error:              idx.Error,
		Stage:              string(idx.Stage),
		CreatedAt:          idx.CreatedAt,
	}, nil
}

func indexFromModel(m GenerationIndexModel) domain.GenerationIndex {
	idx := domain.GenerationIndex{
		ID:                 m.ID,
		UID:                m.UID,
		Platform:           domain.Platform(m.Platform),
		Purpose:            m.Purpose,
		Topic:              m.Topic,
		Length:             m.Length,
		ExtraPrompt:        m.ExtraPrompt,
		ReferencesProvided: m.ReferencesProvided,
		TitleCandidate:     m.TitleCandidate,
		Status:             domain.GenerationStatus(m.Status),
		Error:              m.Error,
		Stage:              domain.Stage(m.Stage),
		CreatedAt:          m.CreatedAt,
	}
	if len(m.Keywords) > 0 {
		_ = json.Unmarshal(m.Keywords, &idx.Keywords)
	}
	return idx
}
