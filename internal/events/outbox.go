package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRecord is the durable form of a published billing event, kept for
// downstream consumers (invoicing, notifications) that replay the stream.
type OutboxRecord struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	TenantID  string            `gorm:"type:text;not null;index"`
	EventType string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	DedupeKey *string           `gorm:"type:text;uniqueIndex"`
	Published bool              `gorm:"not null;default:false"`
	CreatedAt time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (OutboxRecord) TableName() string { return "billing_events" }

// Outbox appends billing events to the billing_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Append stores one event. An empty dedupe key disables deduplication;
// conflicting dedupe keys are silently dropped.
func (o *Outbox) Append(ctx context.Context, tenantID, eventType string, payload map[string]any, dedupeKey string) error {
	if o == nil || o.db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return errors.New("missing_event_type")
	}

	body := datatypes.JSONMap{}
	for key, value := range payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		body[key] = value
	}

	record := OutboxRecord{
		ID:        o.genID.Generate(),
		TenantID:  strings.TrimSpace(tenantID),
		EventType: eventType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if dedupe := strings.TrimSpace(dedupeKey); dedupe != "" {
		record.DedupeKey = &dedupe
	}

	return o.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
}
