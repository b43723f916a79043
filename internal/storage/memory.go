package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"cyphertrade/internal/memory"
)

// MemoryStore implements memory.Store against memory_entries/collective_memory.
type MemoryStore struct {
	db *DB
}

// NewMemoryStore builds a MemoryStore.
func NewMemoryStore(db *DB) *MemoryStore { return &MemoryStore{db: db} }

func (s *MemoryStore) AppendEntry(ctx context.Context, e memory.Entry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO memory_entries (id, agent, type, content, metadata, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), e.Agent, e.Type, e.Content, metaJSON, e.Ts)
	return err
}

func (s *MemoryStore) AppendCollective(ctx context.Context, e memory.CollectiveEntry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO collective_memory (id, type, content, metadata, ts)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), e.Type, e.Content, metaJSON, e.Ts)
	return err
}

func (s *MemoryStore) QueryEntries(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]memory.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, agent, type, content, metadata, ts
		FROM memory_entries
		WHERE agent = $1 AND ($2 = '' OR type = $2) AND ts >= $3
		ORDER BY ts DESC
		LIMIT $4
	`, agent, entryType, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []memory.Entry
	for rows.Next() {
		var e memory.Entry
		var metaRaw []byte
		if err := rows.Scan(&e.ID, &e.Agent, &e.Type, &e.Content, &metaRaw, &e.Ts); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
