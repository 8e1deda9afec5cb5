package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
)

// record is the checkpoints table row.
type record struct {
	ThreadID  string    `gorm:"primaryKey;size:128"`
	History   []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"index"`
}

// TableName pins the table name regardless of naming strategy.
func (record) TableName() string { return "checkpoints" }

// SQLStore keeps histories in a relational database through gorm. The same
// implementation serves the sqlite and postgres tiers.
type SQLStore struct {
	db   *gorm.DB
	tier string
}

// OpenSQLite opens (creating if needed) the sqlite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewCheckpointError("create sqlite directory", err).WithTier(config.TierSQLite)
		}
	}
	return openSQL(ctx, config.TierSQLite, sqlite.Open(path))
}

// OpenPostgres connects to the postgres database at dsn.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	return openSQL(ctx, config.TierPostgres, postgres.Open(dsn))
}

func openSQL(ctx context.Context, tier string, dialector gorm.Dialector) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.NewCheckpointError("open database", err).WithTier(tier).WithRetryable(true)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.NewCheckpointError("access connection pool", err).WithTier(tier)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.NewCheckpointError("ping database", err).WithTier(tier).WithRetryable(true)
	}

	if err := db.WithContext(ctx).AutoMigrate(&record{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.NewCheckpointError("migrate checkpoints table", err).WithTier(tier)
	}
	return &SQLStore{db: db, tier: tier}, nil
}

// Name implements Store.
func (s *SQLStore) Name() string { return s.tier }

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, threadID string) (History, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Limit(1).Find(&rec).Error
	if err != nil {
		return History{}, errors.NewCheckpointError("load history", err).WithTier(s.tier).WithThreadID(threadID)
	}
	if rec.ThreadID == "" {
		return emptyHistory(threadID), nil
	}

	var h History
	if err := json.Unmarshal(rec.History, &h); err != nil {
		return History{}, errors.NewCheckpointError("decode history", err).WithTier(s.tier).WithThreadID(threadID)
	}
	h.ThreadID = threadID
	h.UpdatedAt = rec.UpdatedAt
	return h, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, threadID string, h History) error {
	h.ThreadID = threadID
	h.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(h)
	if err != nil {
		return errors.NewCheckpointError("encode history", err).WithTier(s.tier).WithThreadID(threadID)
	}

	rec := record{ThreadID: threadID, History: data, UpdatedAt: h.UpdatedAt}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"history", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return errors.NewCheckpointError("save history", err).WithTier(s.tier).WithThreadID(threadID).WithRetryable(true)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&record{}).Error
	if err != nil {
		return errors.NewCheckpointError("delete history", err).WithTier(s.tier).WithThreadID(threadID)
	}
	return nil
}

// Clear implements Store.
func (s *SQLStore) Clear(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&record{})
	if res.Error != nil {
		return 0, errors.NewCheckpointError("clear history", res.Error).WithTier(s.tier)
	}
	return int(res.RowsAffected), nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
