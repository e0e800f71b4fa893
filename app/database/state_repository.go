package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"

	"github.com/lysyi3m/rss-relay/app/state"
)

const insertBatchSize = 200

var (
	_ state.SeenStore = (*StateRepository)(nil)
	_ state.MetaStore = (*StateRepository)(nil)
)

// StateRepository persists seen keys and feed validators in sqlite.
type StateRepository struct {
	db  *DB
	now func() time.Time
}

func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db, now: time.Now}
}

func (r *StateRepository) LoadSeen(ctx context.Context) (state.KeySet, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	query, args := sb.Select("seen_key").From("seen_keys").Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen keys: %w", err)
	}
	defer rows.Close()

	keys := state.NewKeySet()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan seen key: %w", err)
		}
		keys.Add(key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seen keys: %w", err)
	}

	return keys, nil
}

// SaveSeen inserts keys that are not stored yet. Existing rows keep their
// original created_at.
func (r *StateRepository) SaveSeen(ctx context.Context, keys state.KeySet) error {
	now := r.now().Unix()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range lo.Chunk(keys.Sorted(), insertBatchSize) {
			ib := sqlbuilder.SQLite.NewInsertBuilder()
			ib.InsertIgnoreInto("seen_keys").Cols("seen_key", "created_at")
			for _, key := range chunk {
				ib.Values(key, now)
			}

			query, args := ib.Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to insert seen keys: %w", err)
			}
		}
		return nil
	})
}

func (r *StateRepository) LoadMeta(ctx context.Context) (state.Metadata, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	query, args := sb.Select("feed_url", "etag", "last_modified").From("feed_validators").Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed validators: %w", err)
	}
	defer rows.Close()

	meta := state.Metadata{}
	for rows.Next() {
		var feedURL string
		var v state.Validators
		if err := rows.Scan(&feedURL, &v.ETag, &v.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan feed validators: %w", err)
		}
		meta[feedURL] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed validators: %w", err)
	}

	return meta, nil
}

// SaveMeta replaces the stored validators with meta.
func (r *StateRepository) SaveMeta(ctx context.Context, meta state.Metadata) error {
	now := r.now().Unix()
	urls := lo.Keys(meta)

	return r.withTx(ctx, func(tx *sql.Tx) error {
		del := sqlbuilder.SQLite.NewDeleteBuilder()
		query, args := del.DeleteFrom("feed_validators").Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to clear feed validators: %w", err)
		}

		for _, chunk := range lo.Chunk(urls, insertBatchSize) {
			ib := sqlbuilder.SQLite.NewInsertBuilder()
			ib.ReplaceInto("feed_validators").Cols("feed_url", "etag", "last_modified", "updated_at")
			for _, feedURL := range chunk {
				v := meta[feedURL]
				ib.Values(feedURL, v.ETag, v.LastModified, now)
			}

			query, args := ib.Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to store feed validators: %w", err)
			}
		}
		return nil
	})
}

func (r *StateRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
