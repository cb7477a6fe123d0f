package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/devteam/internal/orchestration/memory"
)

// SnapshotInfo describes a stored snapshot without its contents.
type SnapshotInfo struct {
	ID             int64
	ProjectID      string
	Label          string
	ShortTermCount int
	LongTermCount  int
	CreatedAt      time.Time
}

// EntryModel represents a row of the snapshot_entries table.
// Values and metadata are JSON encoded; times are Unix nanoseconds.
type EntryModel struct {
	SnapshotID  int64
	Position    int
	Tier        string
	EntryID     string
	Type        string
	Key         string
	Value       string
	Metadata    *string // nullable, JSON encoded
	AccessCount int
	CreatedAt   int64
	AccessedAt  int64
}

func toEntryModel(snapshotID int64, tier memory.Tier, position int, e memory.Entry) (EntryModel, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return EntryModel{}, fmt.Errorf("failed to encode value of %s: %w", e.FullKey(), err)
	}

	model := EntryModel{
		SnapshotID:  snapshotID,
		Position:    position,
		Tier:        string(tier),
		EntryID:     e.ID,
		Type:        e.Type,
		Key:         e.Key,
		Value:       string(value),
		AccessCount: e.AccessCount,
		CreatedAt:   e.CreatedAt.UnixNano(),
		AccessedAt:  e.AccessedAt.UnixNano(),
	}
	if len(e.Metadata) > 0 {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return EntryModel{}, fmt.Errorf("failed to encode metadata of %s: %w", e.FullKey(), err)
		}
		s := string(meta)
		model.Metadata = &s
	}
	return model, nil
}

// toEntry decodes the row. JSON numbers come back as float64.
func (m EntryModel) toEntry() (memory.Entry, error) {
	e := memory.Entry{
		ID:          m.EntryID,
		Type:        m.Type,
		Key:         m.Key,
		AccessCount: m.AccessCount,
		CreatedAt:   time.Unix(0, m.CreatedAt),
		AccessedAt:  time.Unix(0, m.AccessedAt),
	}
	if err := json.Unmarshal([]byte(m.Value), &e.Value); err != nil {
		return memory.Entry{}, fmt.Errorf("failed to decode value of %s: %w", e.FullKey(), err)
	}
	if m.Metadata != nil {
		if err := json.Unmarshal([]byte(*m.Metadata), &e.Metadata); err != nil {
			return memory.Entry{}, fmt.Errorf("failed to decode metadata of %s: %w", e.FullKey(), err)
		}
	}
	return e, nil
}
