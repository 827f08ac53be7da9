package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"psychometric/sessions/internal/session"
)

// ErrDuplicateCode is returned when a session code is already taken.
var ErrDuplicateCode = errors.New("session code already in use")

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const sessionColumns = `
    id::text, code, start_time, end_time, target_position, description, location,
    max_participants, current_participants, status, allow_late_entry, auto_expire,
    proctor_id::text, created_at, updated_at, created_by::text, updated_by::text`

func scanSession(row pgx.Row) (session.Session, error) {
	var (
		s                             session.Session
		target, description, location *string
		proctor, createdBy, updatedBy *string
		maxParticipants               *int32
		current                       int32
		status                        string
	)
	err := row.Scan(
		&s.ID,
		&s.Code,
		&s.StartTime,
		&s.EndTime,
		&target,
		&description,
		&location,
		&maxParticipants,
		&current,
		&status,
		&s.AllowLateEntry,
		&s.AutoExpire,
		&proctor,
		&s.CreatedAt,
		&s.UpdatedAt,
		&createdBy,
		&updatedBy,
	)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status, err = session.ParseStatus(status); err != nil {
		return session.Session{}, err
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	s.TargetPosition = deref(target)
	s.Description = deref(description)
	s.Location = deref(location)
	s.ProctorID = deref(proctor)
	s.CreatedBy = deref(createdBy)
	s.UpdatedBy = deref(updatedBy)
	s.CurrentParticipants = int(current)
	if maxParticipants != nil {
		limit := int(*maxParticipants)
		s.MaxParticipants = &limit
	}
	return s, nil
}

// GetByID loads a session with its modules ordered by sequence.
func (s *Store) GetByID(ctx context.Context, id string) (session.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return session.Session{}, session.ErrNotFound
	}
	found, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id))
	if err != nil {
		return session.Session{}, mapLookupError(err)
	}
	rows, err := s.Pool.Query(ctx, `
    SELECT test_id::text, sequence, is_required, weight
    FROM session_modules
    WHERE session_id = $1
    ORDER BY sequence
  `, id)
	if err != nil {
		return session.Session{}, mapLookupError(err)
	}
	found.Modules, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Module, error) {
		var m session.Module
		err := row.Scan(&m.TestID, &m.Sequence, &m.IsRequired, &m.Weight)
		return m, err
	})
	if err != nil {
		return session.Session{}, mapLookupError(err)
	}
	return found, nil
}

// GetByCode loads a session by its join code together with the display
// metadata of every module, in one round trip.
func (s *Store) GetByCode(ctx context.Context, code string) (session.Session, []session.ModuleView, error) {
	batch := &pgx.Batch{}
	batch.Queue(`SELECT `+sessionColumns+` FROM test_sessions WHERE code = $1`, code)
	batch.Queue(`
    SELECT sm.test_id::text, sm.sequence, sm.is_required, sm.weight,
           t.name, t.category, t.module_type, t.time_limit_minutes, t.icon, t.color
    FROM session_modules sm
    JOIN test_sessions ts ON ts.id = sm.session_id
    JOIN tests t ON t.id = sm.test_id
    WHERE ts.code = $1
    ORDER BY sm.sequence
  `, code)
	results := s.Pool.SendBatch(ctx, batch)
	defer results.Close()

	found, err := scanSession(results.QueryRow())
	if err != nil {
		return session.Session{}, nil, mapLookupError(err)
	}
	rows, err := results.Query()
	if err != nil {
		return session.Session{}, nil, mapLookupError(err)
	}
	views, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.ModuleView, error) {
		var v session.ModuleView
		err := row.Scan(
			&v.TestID,
			&v.Sequence,
			&v.IsRequired,
			&v.Weight,
			&v.Name,
			&v.Category,
			&v.ModuleType,
			&v.TimeLimitMinutes,
			&v.Icon,
			&v.Color,
		)
		return v, err
	})
	if err != nil {
		return session.Session{}, nil, mapLookupError(err)
	}
	found.Modules = make([]session.Module, 0, len(views))
	for _, v := range views {
		found.Modules = append(found.Modules, v.Module)
	}
	return found, views, nil
}

func (s *Store) FindCandidatesForReconciliation(ctx context.Context, now time.Time) ([]session.Session, error) {
	rows, err := s.Pool.Query(ctx, `
    SELECT `+sessionColumns+`
    FROM test_sessions
    WHERE auto_expire
      AND ((status = 'draft' AND start_time <= $1) OR (status = 'active' AND end_time <= $1))
    ORDER BY start_time, id
  `, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Session, error) {
		return scanSession(row)
	})
}

func (s *Store) ConditionalUpdateStatus(ctx context.Context, id string, expected, next session.Status) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
    UPDATE test_sessions
    SET status = $3, updated_at = NOW()
    WHERE id = $1 AND status = $2
  `, id, string(expected), string(next))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// HasAnyAttempt backs the reconciler when attempts live in the same database.
func (s *Store) HasAnyAttempt(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM test_attempts WHERE session_id = $1)`, sessionID).Scan(&exists)
	return exists, err
}

// CreateSession inserts a session and its modules. A missing ID is generated
// and a missing status defaults to draft.
func (s *Store) CreateSession(ctx context.Context, in session.Session) (session.Session, error) {
	if err := session.ValidateWindow(in.StartTime, in.EndTime); err != nil {
		return session.Session{}, err
	}
	if err := session.ValidateModules(in.Modules); err != nil {
		return session.Session{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = session.StatusDraft
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var maxParticipants *int32
		if in.MaxParticipants != nil {
			limit := int32(*in.MaxParticipants)
			maxParticipants = &limit
		}
		_, err := tx.Exec(ctx, `
      INSERT INTO test_sessions (
        id, code, start_time, end_time, target_position, description, location,
        max_participants, current_participants, status, allow_late_entry, auto_expire,
        proctor_id, created_at, updated_at, created_by, updated_by
      )
      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
    `, in.ID, in.Code, in.StartTime, in.EndTime, nullable(in.TargetPosition), nullable(in.Description),
			nullable(in.Location), maxParticipants, int32(in.CurrentParticipants), string(in.Status),
			in.AllowLateEntry, in.AutoExpire, nullable(in.ProctorID), in.CreatedAt, in.UpdatedAt,
			nullable(in.CreatedBy), nullable(in.UpdatedBy))
		if err != nil {
			return err
		}
		for _, m := range in.Modules {
			if _, err := tx.Exec(ctx, `
        INSERT INTO session_modules (session_id, test_id, sequence, is_required, weight)
        VALUES ($1, $2, $3, $4, $5)
      `, in.ID, m.TestID, m.Sequence, m.IsRequired, m.Weight); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == "23505" && pgErr.ConstraintName == "test_sessions_code_key":
				return session.Session{}, ErrDuplicateCode
			case pgErr.Code == "23505", pgErr.Code == "23503":
				return session.Session{}, fmt.Errorf("%w: %s", session.ErrInvalidModules, pgErr.Message)
			case pgErr.Code == "23514" && pgErr.ConstraintName == "test_sessions_window":
				return session.Session{}, session.ErrInvalidTimeWindow
			}
		}
		return session.Session{}, err
	}
	return in, nil
}

func mapLookupError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return session.ErrNotFound
	}
	return fmt.Errorf("%w: %w", session.ErrTransientStore, err)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
