// Package repository persists tenant metering snapshots with gorm.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
)

// SnapshotRecord is the durable form of one tenant's metering state. The
// whole snapshot is stored as a JSON document; readings are never queried
// individually.
type SnapshotRecord struct {
	TenantID  string         `gorm:"primaryKey;type:text"`
	State     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (SnapshotRecord) TableName() string { return "tenant_meter_snapshots" }

// Store is the gorm-backed snapshot repository.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LoadAll(ctx context.Context) ([]meteringdomain.TenantSnapshot, error) {
	var records []SnapshotRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}

	snapshots := make([]meteringdomain.TenantSnapshot, 0, len(records))
	for _, record := range records {
		var snapshot meteringdomain.TenantSnapshot
		if err := json.Unmarshal(record.State, &snapshot); err != nil {
			continue
		}
		if snapshot.TenantID == "" {
			snapshot.TenantID = record.TenantID
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (s *Store) Save(ctx context.Context, snapshots []meteringdomain.TenantSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]SnapshotRecord, 0, len(snapshots))
	for _, snapshot := range snapshots {
		state, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		records = append(records, SnapshotRecord{
			TenantID:  snapshot.TenantID,
			State:     state,
			UpdatedAt: now,
		})
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(&records).Error
}
