package locations

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hostelsync/hostelsync-backend/internal/repo"
	"github.com/hostelsync/hostelsync-backend/pkg/db/models"
)

const identityKeyChunk = 500

// Repository persists the latest position per identity key.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, position *models.Position) error
	FindByIdentityKey(ctx context.Context, identityKey string) (*models.Position, error)
	FindByIdentityKeyForUpdate(ctx context.Context, identityKey string) (*models.Position, error)
	FindByIdentityKeys(ctx context.Context, identityKeys []string) (map[string]models.Position, error)
	ListInBatches(ctx context.Context, batchSize int, fn func([]models.Position) error) error
	DeleteSampledBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type repositoryImpl struct {
	repo.Base
}

// NewRepository returns a positions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{Base: r.Bind(tx)}
}

// Upsert inserts the position or overwrites the row that already holds its identity key.
func (r *repositoryImpl) Upsert(ctx context.Context, position *models.Position) error {
	if position == nil {
		return errors.New("position is required")
	}
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"identity",
				"username",
				"email",
				"location",
				"sampled_at",
				"updated_at",
			}),
		}).
		Create(position).Error
}

// FindByIdentityKey returns the most recent row for the key or gorm.ErrRecordNotFound.
func (r *repositoryImpl) FindByIdentityKey(ctx context.Context, identityKey string) (*models.Position, error) {
	var position models.Position
	err := r.DB(ctx).
		Where("identity_key = ?", identityKey).
		Order("sampled_at DESC").
		First(&position).Error
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// FindByIdentityKeyForUpdate is FindByIdentityKey holding a row lock until the
// surrounding transaction ends, so concurrent samples for one identity see each
// other's writes. Dialects without row locks read without one.
func (r *repositoryImpl) FindByIdentityKeyForUpdate(ctx context.Context, identityKey string) (*models.Position, error) {
	query := r.DB(ctx).Where("identity_key = ?", identityKey)
	if supportsRowLocks(query.Dialector.Name()) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var position models.Position
	if err := query.Order("sampled_at DESC").First(&position).Error; err != nil {
		return nil, err
	}
	return &position, nil
}

func supportsRowLocks(dialect string) bool {
	return dialect == "postgres"
}

// FindByIdentityKeys loads rows for many keys, keyed by identity key. Missing keys are absent from the map.
func (r *repositoryImpl) FindByIdentityKeys(ctx context.Context, identityKeys []string) (map[string]models.Position, error) {
	out := make(map[string]models.Position, len(identityKeys))
	err := repo.Chunk(identityKeys, identityKeyChunk, func(keys []string) error {
		var rows []models.Position
		if err := r.DB(ctx).
			Where("identity_key IN ?", keys).
			Order("sampled_at ASC").
			Find(&rows).Error; err != nil {
			return err
		}
		// ascending order leaves the most recent row in the map
		for _, row := range rows {
			out[row.IdentityKey] = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repositoryImpl) ListInBatches(ctx context.Context, batchSize int, fn func([]models.Position) error) error {
	if batchSize <= 0 {
		batchSize = identityKeyChunk
	}
	var rows []models.Position
	return r.DB(ctx).
		Model(&models.Position{}).
		FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(rows)
		}).Error
}

// DeleteSampledBefore removes up to limit rows last sampled before cutoff and returns their identity keys.
func (r *repositoryImpl) DeleteSampledBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var keys []string
	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.Position{}).
			Where("sampled_at < ?", cutoff).
			Order("sampled_at ASC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		if err := query.Pluck("identity_key", &keys).Error; err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return tx.Where("identity_key IN ? AND sampled_at < ?", keys, cutoff).
			Delete(&models.Position{}).Error
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
