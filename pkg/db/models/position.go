package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hostelsync/hostelsync-backend/pkg/types"
)

// Position is the latest known location of one identity.
type Position struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Identity    string             `gorm:"column:identity;not null"`
	IdentityKey string             `gorm:"column:identity_key;not null;uniqueIndex:ux_positions_identity_key"`
	Username    *string            `gorm:"column:username"`
	Email       *string            `gorm:"column:email"`
	Location    types.GeoJSONPoint `gorm:"column:location;type:jsonb;not null"`
	SampledAt   time.Time          `gorm:"column:sampled_at;not null"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
