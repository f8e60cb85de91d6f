package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/factstore/internal/model"
)

// currentSlotIndex is the partial unique index enforcing one current fact per slot.
const currentSlotIndex = "facts_one_current_per_slot"

const factColumns = `id, subject_type, subject_id, fact_type, key, value, source_type, source_id,
	source_url, confidence, valid_from, valid_until, created_at, created_by`

// GetCurrentFact returns the fact with no valid_until in slot, or nil.
func (db *DB) GetCurrentFact(ctx context.Context, slot model.Slot) (*model.Fact, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+factColumns+` FROM facts
		 WHERE subject_type = $1 AND subject_id = $2 AND fact_type = $3 AND key = $4
		   AND valid_until IS NULL`,
		string(slot.Subject.Type), slot.Subject.ID, slot.FactType, slot.Key,
	)
	f, err := scanFact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get current fact: %w", err)
	}
	return &f, nil
}

// InsertFact records the first current fact of a slot.
func (db *DB) InsertFact(ctx context.Context, in model.FactInput) (model.Fact, error) {
	f := in.NewFact(time.Now().UTC())
	err := writeRetry.Do(ctx, func() error {
		return insertFact(ctx, db.pool, f)
	})
	if err != nil {
		return model.Fact{}, err
	}
	return f, nil
}

// SupersedeFact retires the current fact retireID and inserts in as its
// replacement in a single transaction. If retireID is no longer current the
// transaction rolls back with ErrFactNotCurrent and nothing is written.
func (db *DB) SupersedeFact(ctx context.Context, retireID uuid.UUID, in model.FactInput) (model.Fact, error) {
	var f model.Fact
	err := writeRetry.Do(ctx, func() error {
		var err error
		f, err = db.supersedeOnce(ctx, retireID, in)
		return err
	})
	if err != nil {
		return model.Fact{}, err
	}
	return f, nil
}

func (db *DB) supersedeOnce(ctx context.Context, retireID uuid.UUID, in model.FactInput) (model.Fact, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Fact{}, fmt.Errorf("storage: begin supersede tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC().Truncate(time.Microsecond)

	// Retire the previous fact. The slot predicates stop a caller from
	// retiring a fact that lives in a different slot.
	tag, err := tx.Exec(ctx,
		`UPDATE facts SET valid_until = $1
		 WHERE id = $2 AND valid_until IS NULL
		   AND subject_type = $3 AND subject_id = $4 AND fact_type = $5 AND key = $6`,
		in.RetireAt(now), retireID, string(in.Subject.Type), in.Subject.ID, in.FactType, in.Key,
	)
	if err != nil {
		return model.Fact{}, fmt.Errorf("storage: retire fact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Fact{}, fmt.Errorf("%w: %s", ErrFactNotCurrent, retireID)
	}

	f := in.NewFact(now)
	if err := insertFact(ctx, tx, f); err != nil {
		return model.Fact{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Fact{}, fmt.Errorf("storage: commit supersede: %w", err)
	}
	return f, nil
}

// RetireFact closes a current fact without inserting a replacement.
func (db *DB) RetireFact(ctx context.Context, factID uuid.UUID, retiredAt time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE facts SET valid_until = $1 WHERE id = $2 AND valid_until IS NULL`,
		retiredAt.UTC(), factID,
	)
	if err != nil {
		return fmt.Errorf("storage: retire fact: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM facts WHERE id = $1)`, factID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("storage: check fact: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: fact %s", ErrNotFound, factID)
	}
	return fmt.Errorf("%w: %s", ErrFactNotCurrent, factID)
}

// GetHistory returns every fact recorded in slot, newest first.
func (db *DB) GetHistory(ctx context.Context, slot model.Slot) ([]model.Fact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+factColumns+` FROM facts
		 WHERE subject_type = $1 AND subject_id = $2 AND fact_type = $3 AND key = $4
		 ORDER BY seq DESC`,
		string(slot.Subject.Type), slot.Subject.ID, slot.FactType, slot.Key,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query history: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListFacts returns the facts of one subject, ordered by type, key, and
// recency.
func (db *DB) ListFacts(ctx context.Context, q model.FactQuery) ([]model.Fact, error) {
	where, args := buildFactWhereClause(q, 1)
	rows, err := db.pool.Query(ctx,
		`SELECT `+factColumns+` FROM facts`+where+` ORDER BY fact_type, key, seq DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func buildFactWhereClause(q model.FactQuery, startArgIdx int) (string, []any) {
	idx := startArgIdx
	conditions := []string{
		fmt.Sprintf("subject_type = $%d", idx),
		fmt.Sprintf("subject_id = $%d", idx+1),
	}
	args := []any{string(q.Subject.Type), q.Subject.ID}
	idx += 2

	if q.FactType != "" {
		conditions = append(conditions, fmt.Sprintf("fact_type = $%d", idx))
		args = append(args, q.FactType)
		idx++
	}
	if q.Key != "" {
		conditions = append(conditions, fmt.Sprintf("key = $%d", idx))
		args = append(args, q.Key)
	}
	if !q.IncludeHistorical {
		conditions = append(conditions, "valid_until IS NULL")
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertFact(ctx context.Context, q execer, f model.Fact) error {
	_, err := q.Exec(ctx,
		`INSERT INTO facts (id, subject_type, subject_id, fact_type, key, value, source_type,
		 source_id, source_url, confidence, valid_from, valid_until, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $13)`,
		f.ID, string(f.Subject.Type), f.Subject.ID, f.FactType, f.Key, f.Value, f.SourceType,
		f.SourceID, f.SourceURL, f.Confidence, f.ValidFrom, f.CreatedAt, f.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err, currentSlotIndex) {
			return fmt.Errorf("%w: %s", ErrCurrentFactExists, f.Slot())
		}
		return fmt.Errorf("storage: insert fact: %w", err)
	}
	return nil
}

func scanFact(row pgx.Row) (model.Fact, error) {
	var f model.Fact
	var subjectType string
	err := row.Scan(
		&f.ID, &subjectType, &f.Subject.ID, &f.FactType, &f.Key, &f.Value, &f.SourceType,
		&f.SourceID, &f.SourceURL, &f.Confidence, &f.ValidFrom, &f.ValidUntil,
		&f.CreatedAt, &f.CreatedBy,
	)
	f.Subject.Type = model.EntityType(subjectType)
	return f, err
}

func scanFacts(rows pgx.Rows) ([]model.Fact, error) {
	var facts []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
