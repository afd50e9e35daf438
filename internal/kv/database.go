package kv

import (
	"context"
	"errors"
	"time"

	"github.com/olytrack/olytrack/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type dbStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabase returns a Store kept in the kv_entries table, for deployments without redis.
func NewDatabase(db *gorm.DB) Store {
	return &dbStore{db: db, now: time.Now}
}

func (s *dbStore) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().UTC().Add(ttl)
	return &t
}

func (s *dbStore) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("expires_at IS NULL OR expires_at > ?", s.now().UTC())
}

func (s *dbStore) Get(ctx context.Context, key string) (string, error) {
	var entry models.KVEntry
	err := s.live(s.db.WithContext(ctx)).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (s *dbStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := models.KVEntry{Key: key, Value: value, ExpiresAt: s.expiry(ttl)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
}

func (s *dbStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var stored bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.now().UTC()).
			Delete(&models.KVEntry{}).Error; err != nil {
			return err
		}
		entry := models.KVEntry{Key: key, Value: value, ExpiresAt: s.expiry(ttl)}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if result.Error != nil {
			return result.Error
		}
		stored = result.RowsAffected > 0
		return nil
	})
	return stored, err
}

func (s *dbStore) Take(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.KVEntry
		if err := s.live(tx).Where("key = ?", key).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		result := tx.Where("key = ?", key).Delete(&models.KVEntry{})
		if result.Error != nil {
			return result.Error
		}
		// a concurrent Take got it first
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		value = entry.Value
		return nil
	})
	return value, err
}

func (s *dbStore) Del(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.KVEntry{}).Error
}

func (s *dbStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	result := s.live(s.db.WithContext(ctx)).Where("key = ? AND value = ?", key, value).Delete(&models.KVEntry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
