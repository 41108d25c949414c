// Package eventlog persists every hardware event the coordinator receives,
// for auditing and operator queries.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"smartlocker/internal/protocol"
)

type eventModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Time        time.Time `gorm:"column:time;index"`
	ColumnID    string    `gorm:"column:column_id;index"`
	Compartment int       `gorm:"column:compartment"`
	Kind        string    `gorm:"column:kind;index"`
	Payload     string    `gorm:"column:payload"`
	ReceivedAt  time.Time `gorm:"column:received_at"`
}

func (eventModel) TableName() string {
	return "events"
}

// Event is a persisted hardware event.
type Event struct {
	ID          uint               `json:"id"`
	Time        time.Time          `json:"time"`
	ColumnID    string             `json:"column_id"`
	Compartment int                `json:"compartment"`
	Kind        protocol.EventKind `json:"kind"`
	Payload     string             `json:"payload,omitempty"`
	ReceivedAt  time.Time          `json:"received_at"`
}

// Filter narrows a List query. Zero values mean no constraint.
type Filter struct {
	ColumnID    string
	Compartment *int
	Kind        protocol.EventKind
	Since       time.Time
	Limit       int
	Offset      int
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate events table: %w", err)
	}
	return &Repository{db: db}, nil
}

// Append stores one event. Append never deduplicates; the event stream is
// at-most-once upstream so every arrival is worth keeping.
func (r *Repository) Append(ctx context.Context, msg protocol.EventMessage) error {
	model := eventModel{
		Time:        msg.Timestamp,
		ColumnID:    msg.ColumnID,
		Compartment: msg.Compartment,
		Kind:        string(msg.Kind),
		Payload:     msg.Payload,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// List returns events newest first, filtered and paginated.
func (r *Repository) List(ctx context.Context, f Filter) ([]Event, error) {
	q := r.db.WithContext(ctx).Model(&eventModel{})
	if f.ColumnID != "" {
		q = q.Where("column_id = ?", f.ColumnID)
	}
	if f.Compartment != nil {
		q = q.Where("compartment = ?", *f.Compartment)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if !f.Since.IsZero() {
		q = q.Where("time >= ?", f.Since)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q = q.Order("time DESC, id DESC").Limit(limit)
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var models []eventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]Event, len(models))
	for i, m := range models {
		events[i] = Event{
			ID:          m.ID,
			Time:        m.Time,
			ColumnID:    m.ColumnID,
			Compartment: m.Compartment,
			Kind:        protocol.EventKind(m.Kind),
			Payload:     m.Payload,
			ReceivedAt:  m.ReceivedAt,
		}
	}
	return events, nil
}

// CountByKind summarizes event volume per kind for one column.
func (r *Repository) CountByKind(ctx context.Context, columnID string) (map[protocol.EventKind]int64, error) {
	type row struct {
		Kind  string
		Count int64
	}
	var rows []row
	q := r.db.WithContext(ctx).Model(&eventModel{}).
		Select("kind, count(*) as count").
		Group("kind")
	if columnID != "" {
		q = q.Where("column_id = ?", columnID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	counts := make(map[protocol.EventKind]int64, len(rows))
	for _, r := range rows {
		counts[protocol.EventKind(r.Kind)] = r.Count
	}
	return counts, nil
}
