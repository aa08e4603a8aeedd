// Package postgres implements the TokenRegistry on PostgreSQL via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// enumerateBatchSize is the page size EachActiveToken reads with.
const enumerateBatchSize = 1000

type deviceTokenRecord struct {
	Token       string    `gorm:"column:token;primaryKey;type:text"`
	RecipientID string    `gorm:"column:recipient_id;type:text;index:idx_recipient_active"`
	Platform    string    `gorm:"column:platform;type:varchar(16)"`
	Active      bool      `gorm:"column:active;index:idx_recipient_active"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (deviceTokenRecord) TableName() string {
	return "device_tokens"
}

func (r deviceTokenRecord) toDomain() push.DeviceToken {
	p, _ := push.ParsePlatform(r.Platform)
	return push.DeviceToken{
		RecipientID: r.RecipientID,
		Token:       r.Token,
		Platform:    p,
		Active:      r.Active,
		UpdatedAt:   r.UpdatedAt,
	}
}

type Registry struct {
	db *gorm.DB
}

// New connects to dsn and migrates the device_tokens table.
func New(dsn string) (*Registry, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.AutoMigrate(deviceTokenRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate device_tokens: %w", err)
	}
	return &Registry{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) Upsert(ctx context.Context, recipientID, token string, platform push.Platform) (push.DeviceToken, error) {
	rec := deviceTokenRecord{
		Token:       token,
		RecipientID: recipientID,
		Platform:    platform.String(),
		Active:      true,
	}

	// The token is the primary key: re-registering a token held by another
	// recipient hands the record over.
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"recipient_id", "platform", "active", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return push.DeviceToken{}, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return rec.toDomain(), nil
}

func (r *Registry) Deactivate(ctx context.Context, token string) (*push.DeviceToken, error) {
	var rec deviceTokenRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "token = ?", token).Error; err != nil {
			return err
		}
		return tx.Model(&rec).Updates(map[string]any{"active": false}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate device token: %w", err)
	}
	rec.Active = false
	out := rec.toDomain()
	return &out, nil
}

func (r *Registry) Remove(ctx context.Context, recipientID, token string) error {
	res := r.db.WithContext(ctx).
		Where("token = ? AND recipient_id = ?", token, recipientID).
		Delete(&deviceTokenRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove device token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("token for recipient %s: %w", recipientID, push.ErrNotFound)
	}
	return nil
}

func (r *Registry) ActiveTokens(ctx context.Context, recipientID string) ([]string, error) {
	return r.activeTokens(ctx, recipientID, "")
}

func (r *Registry) ActiveTokensForPlatform(ctx context.Context, recipientID string, platform push.Platform) ([]string, error) {
	return r.activeTokens(ctx, recipientID, platform)
}

func (r *Registry) activeTokens(ctx context.Context, recipientID string, platform push.Platform) ([]string, error) {
	db := r.db.WithContext(ctx).
		Model(&deviceTokenRecord{}).
		Where("recipient_id = ? AND active", recipientID)
	if platform != "" {
		db = db.Where("platform = ?", platform.String())
	}

	var tokens []string
	if err := db.Order("token").Pluck("token", &tokens).Error; err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}
	return tokens, nil
}

func (r *Registry) EachActiveToken(ctx context.Context, fn func(token string) error) error {
	var page []deviceTokenRecord
	err := r.db.WithContext(ctx).
		Where("active").
		Order("token").
		FindInBatches(&page, enumerateBatchSize, func(_ *gorm.DB, _ int) error {
			for _, rec := range page {
				if err := fn(rec.Token); err != nil {
					return err
				}
			}
			return nil
		}).Error
	if err != nil {
		return fmt.Errorf("failed to enumerate active tokens: %w", err)
	}
	return nil
}
