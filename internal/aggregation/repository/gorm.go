// Package repository persists aggregation buckets and trend buffers with gorm.
package repository

import (
	"context"
	"encoding/json"
	"time"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AggregateRecord is the durable form of one aggregation bucket.
type AggregateRecord struct {
	BucketKey    string            `gorm:"primaryKey;type:text"`
	TenantID     string            `gorm:"type:text;not null;index"`
	MeterType    string            `gorm:"type:text;not null"`
	Period       string            `gorm:"type:text;not null"`
	PeriodStart  time.Time         `gorm:"not null;index"`
	PeriodEnd    time.Time         `gorm:"not null;index"`
	TotalUsage   float64           `gorm:"not null"`
	PeakUsage    float64           `gorm:"not null"`
	AverageUsage float64           `gorm:"not null"`
	MinUsage     float64           `gorm:"not null"`
	MaxUsage     float64           `gorm:"not null"`
	EventCount   int64             `gorm:"not null"`
	Unit         string            `gorm:"type:text"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	UpdatedAt    time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (AggregateRecord) TableName() string { return "usage_aggregates" }

// TrendBufferRecord is the durable form of one rolling trend buffer.
type TrendBufferRecord struct {
	TenantID  string         `gorm:"primaryKey;type:text"`
	MeterType string         `gorm:"primaryKey;type:text"`
	Values    datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (TrendBufferRecord) TableName() string { return "usage_trend_buffers" }

// Store is the gorm-backed aggregation repository.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LoadBuckets(ctx context.Context) ([]aggregationdomain.AggregatedUsage, error) {
	var records []AggregateRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}

	buckets := make([]aggregationdomain.AggregatedUsage, 0, len(records))
	for _, record := range records {
		bucket := aggregationdomain.AggregatedUsage{
			TenantID:     record.TenantID,
			MeterType:    meter.Type(record.MeterType),
			Period:       aggregationdomain.Period(record.Period),
			PeriodStart:  record.PeriodStart.UTC(),
			PeriodEnd:    record.PeriodEnd.UTC(),
			TotalUsage:   record.TotalUsage,
			PeakUsage:    record.PeakUsage,
			AverageUsage: record.AverageUsage,
			MinUsage:     record.MinUsage,
			MaxUsage:     record.MaxUsage,
			EventCount:   record.EventCount,
			Unit:         record.Unit,
		}
		if len(record.Metadata) > 0 {
			bucket.Metadata = make(map[string]string, len(record.Metadata))
			for key, value := range record.Metadata {
				if str, ok := value.(string); ok {
					bucket.Metadata[key] = str
				}
			}
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func (s *Store) LoadTrendBuffers(ctx context.Context) ([]aggregationdomain.TrendBuffer, error) {
	var records []TrendBufferRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}

	buffers := make([]aggregationdomain.TrendBuffer, 0, len(records))
	for _, record := range records {
		buffer := aggregationdomain.TrendBuffer{
			TenantID:  record.TenantID,
			MeterType: meter.Type(record.MeterType),
		}
		if len(record.Values) > 0 {
			if err := json.Unmarshal(record.Values, &buffer.Values); err != nil {
				continue
			}
		}
		buffers = append(buffers, buffer)
	}
	return buffers, nil
}

func (s *Store) SaveBuckets(ctx context.Context, buckets []aggregationdomain.AggregatedUsage) error {
	if len(buckets) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]AggregateRecord, 0, len(buckets))
	for _, bucket := range buckets {
		record := AggregateRecord{
			BucketKey:    bucket.Key(),
			TenantID:     bucket.TenantID,
			MeterType:    string(bucket.MeterType),
			Period:       string(bucket.Period),
			PeriodStart:  bucket.PeriodStart,
			PeriodEnd:    bucket.PeriodEnd,
			TotalUsage:   bucket.TotalUsage,
			PeakUsage:    bucket.PeakUsage,
			AverageUsage: bucket.AverageUsage,
			MinUsage:     bucket.MinUsage,
			MaxUsage:     bucket.MaxUsage,
			EventCount:   bucket.EventCount,
			Unit:         bucket.Unit,
			UpdatedAt:    now,
		}
		if len(bucket.Metadata) > 0 {
			record.Metadata = datatypes.JSONMap{}
			for key, value := range bucket.Metadata {
				record.Metadata[key] = value
			}
		}
		records = append(records, record)
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket_key"}},
			UpdateAll: true,
		}).
		Create(&records).Error
}

func (s *Store) SaveTrendBuffers(ctx context.Context, buffers []aggregationdomain.TrendBuffer) error {
	if len(buffers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]TrendBufferRecord, 0, len(buffers))
	for _, buffer := range buffers {
		values, err := json.Marshal(buffer.Values)
		if err != nil {
			return err
		}
		records = append(records, TrendBufferRecord{
			TenantID:  buffer.TenantID,
			MeterType: string(buffer.MeterType),
			Values:    values,
			UpdatedAt: now,
		})
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "meter_type"}},
			UpdateAll: true,
		}).
		Create(&records).Error
}

func (s *Store) DeleteBucketsEndingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("period_end < ?", cutoff).
		Delete(&AggregateRecord{})
	return result.RowsAffected, result.Error
}
