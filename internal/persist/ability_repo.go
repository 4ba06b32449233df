package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/abilitynet/abilityd/internal/ability"
	"github.com/jackc/pgx/v5"
)

// SaveEntry is one handler's save data in a batch flush.
type SaveEntry struct {
	Key    string
	Data   ability.SaveData
	Reason string // "autosave", "shutdown", "death"
}

// AbilityRepo stores ability save documents as JSONB keyed by save key.
type AbilityRepo struct {
	db *DB
}

func NewAbilityRepo(db *DB) *AbilityRepo {
	return &AbilityRepo{db: db}
}

// LoadAbilities implements ability.Store. A missing row is not an error.
func (r *AbilityRepo) LoadAbilities(ctx context.Context, key string) (ability.SaveData, bool, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM ability_saves WHERE save_key = $1`, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ability.SaveData{}, false, nil
	}
	if err != nil {
		return ability.SaveData{}, false, err
	}
	data, err := ability.UnmarshalSave(raw)
	if err != nil {
		return ability.SaveData{}, false, err
	}
	return data, true, nil
}

// SaveAbilities implements ability.Store.
func (r *AbilityRepo) SaveAbilities(ctx context.Context, key string, data ability.SaveData) error {
	return r.SaveBatch(ctx, []SaveEntry{{Key: key, Data: data, Reason: "direct"}})
}

// SaveBatch upserts every entry and its log row in a single transaction.
// Either all entries are written or none.
func (r *AbilityRepo) SaveBatch(ctx context.Context, entries []SaveEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		raw, err := ability.MarshalSave(e.Data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Key, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ability_saves (save_key, data, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (save_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			e.Key, raw,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", e.Key, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ability_save_log (save_key, abilities, reason) VALUES ($1, $2, $3)`,
			e.Key, len(e.Data.Abilities), e.Reason,
		); err != nil {
			return fmt.Errorf("log %s: %w", e.Key, err)
		}
	}

	return tx.Commit(ctx)
}

// Delete removes the save stored under key.
func (r *AbilityRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM ability_saves WHERE save_key = $1`, key)
	return err
}

// PruneLog drops log rows beyond the newest keep rows per save key.
func (r *AbilityRepo) PruneLog(ctx context.Context, keep int) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM ability_save_log WHERE id IN (
		   SELECT id FROM (
		     SELECT id, row_number() OVER (PARTITION BY save_key ORDER BY created_at DESC, id DESC) AS rn
		     FROM ability_save_log
		   ) ranked WHERE rn > $1
		 )`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune save log: %w", err)
	}
	return tag.RowsAffected(), nil
}
