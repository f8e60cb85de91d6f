package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

const factColumns = `id, subject_type, subject_id, fact_type, key, value, source_type, source_id,
	source_url, confidence, valid_from, valid_until, created_at, created_by`

// GetCurrentFact returns the current fact in slot, or nil.
func (s *Store) GetCurrentFact(ctx context.Context, slot model.Slot) (*model.Fact, error) {
	st, sid := subjectArgs(slot.Subject)
	f, err := scanFact(s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts
		 WHERE subject_type = ? AND subject_id = ? AND fact_type = ? AND key = ?
		   AND valid_until IS NULL`,
		st, sid, slot.FactType, slot.Key,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get current fact: %w", err)
	}
	return &f, nil
}

// InsertFact records the first current fact of a slot.
func (s *Store) InsertFact(ctx context.Context, in model.FactInput) (model.Fact, error) {
	f := in.NewFact(now())
	if err := insertFact(ctx, s.db, f); err != nil {
		return model.Fact{}, err
	}
	return f, nil
}

// SupersedeFact retires retireID and inserts in as its replacement in one
// transaction.
func (s *Store) SupersedeFact(ctx context.Context, retireID uuid.UUID, in model.FactInput) (model.Fact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Fact{}, fmt.Errorf("sqlite: begin supersede tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	st, sid := subjectArgs(in.Subject)
	res, err := tx.ExecContext(ctx,
		`UPDATE facts SET valid_until = ?
		 WHERE id = ? AND valid_until IS NULL
		   AND subject_type = ? AND subject_id = ? AND fact_type = ? AND key = ?`,
		formatTime(in.RetireAt(ts)), retireID.String(), st, sid, in.FactType, in.Key,
	)
	if err != nil {
		return model.Fact{}, fmt.Errorf("sqlite: retire fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Fact{}, fmt.Errorf("%w: %s", storage.ErrFactNotCurrent, retireID)
	}

	f := in.NewFact(ts)
	if err := insertFact(ctx, tx, f); err != nil {
		return model.Fact{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Fact{}, fmt.Errorf("sqlite: commit supersede: %w", err)
	}
	return f, nil
}

// RetireFact closes a current fact without a replacement.
func (s *Store) RetireFact(ctx context.Context, factID uuid.UUID, retiredAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET valid_until = ? WHERE id = ? AND valid_until IS NULL`,
		formatTime(retiredAt), factID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: retire fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM facts WHERE id = ?)`, factID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: check fact: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: fact %s", storage.ErrNotFound, factID)
	}
	return fmt.Errorf("%w: %s", storage.ErrFactNotCurrent, factID)
}

// GetHistory returns every fact in slot, newest first.
func (s *Store) GetHistory(ctx context.Context, slot model.Slot) ([]model.Fact, error) {
	st, sid := subjectArgs(slot.Subject)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts
		 WHERE subject_type = ? AND subject_id = ? AND fact_type = ? AND key = ?
		 ORDER BY seq DESC`,
		st, sid, slot.FactType, slot.Key,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

// ListFacts returns the subject's facts ordered by type, key, and recency.
func (s *Store) ListFacts(ctx context.Context, q model.FactQuery) ([]model.Fact, error) {
	st, sid := subjectArgs(q.Subject)
	conditions := []string{"subject_type = ?", "subject_id = ?"}
	args := []any{st, sid}
	if q.FactType != "" {
		conditions = append(conditions, "fact_type = ?")
		args = append(args, q.FactType)
	}
	if q.Key != "" {
		conditions = append(conditions, "key = ?")
		args = append(args, q.Key)
	}
	if !q.IncludeHistorical {
		conditions = append(conditions, "valid_until IS NULL")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY fact_type, key, seq DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list facts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertFact(ctx context.Context, q execer, f model.Fact) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO facts (id, subject_type, subject_id, fact_type, key, value, source_type,
		 source_id, source_url, confidence, valid_from, valid_until, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		f.ID.String(), string(f.Subject.Type), f.Subject.ID.String(), f.FactType, f.Key, f.Value,
		f.SourceType, nullString(f.SourceID), nullString(f.SourceURL), f.Confidence,
		formatTime(f.ValidFrom), formatTime(f.CreatedAt), nullString(f.CreatedBy),
	)
	if err != nil {
		if isUniqueViolation(err, "facts") {
			return fmt.Errorf("%w: %s", storage.ErrCurrentFactExists, f.Slot())
		}
		return fmt.Errorf("sqlite: insert fact: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFact(row scanner) (model.Fact, error) {
	var (
		f                                  model.Fact
		id, subjectType, subjectID         string
		validFrom, createdAt               string
		sourceID, sourceURL, until, author sql.NullString
	)
	if err := row.Scan(
		&id, &subjectType, &subjectID, &f.FactType, &f.Key, &f.Value, &f.SourceType,
		&sourceID, &sourceURL, &f.Confidence, &validFrom, &until, &createdAt, &author,
	); err != nil {
		return model.Fact{}, err
	}

	var err error
	if f.ID, err = parseUUID(id); err != nil {
		return model.Fact{}, err
	}
	if f.Subject.ID, err = parseUUID(subjectID); err != nil {
		return model.Fact{}, err
	}
	f.Subject.Type = model.EntityType(subjectType)
	f.SourceID = stringPtr(sourceID)
	f.SourceURL = stringPtr(sourceURL)
	f.CreatedBy = stringPtr(author)
	if f.ValidFrom, err = parseTime(validFrom); err != nil {
		return model.Fact{}, fmt.Errorf("sqlite: parse valid_from: %w", err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Fact{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if until.Valid {
		t, err := parseTime(until.String)
		if err != nil {
			return model.Fact{}, fmt.Errorf("sqlite: parse valid_until: %w", err)
		}
		f.ValidUntil = &t
	}
	return f, nil
}

func scanFacts(rows *sql.Rows) ([]model.Fact, error) {
	var facts []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
