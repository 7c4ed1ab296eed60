// Package pgstore keeps the REST service's sessions, assignments, and
// accounts in PostgreSQL through the pgx database/sql driver.
//
// It reports absence and duplicates with the local store's sentinels so
// callers classify both backends the same way.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/ident"
	"github.com/roach88/casewise/internal/server"
	"github.com/roach88/casewise/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is a Postgres-backed server.Repository.
type Store struct {
	db *sql.DB
}

var _ server.Repository = (*Store)(nil)

// Open connects to dsn with the pgx driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// ListSessions returns every session ordered by seq.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select seq, payload from sessions
		order by seq asc, session_id asc
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `select seq, payload from sessions where session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return sess, err
}

// UpsertSession replaces the row matched by client email, then by session
// id, or inserts a new one. The stored copy carries its new seq.
func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	sess = sess.Sanitized()
	if strings.TrimSpace(sess.SessionID) == "" {
		return domain.Session{}, fmt.Errorf("upsert session: %w", store.ErrMissingKey)
	}
	email := ident.NormalizeEmail(sess.ClientEmail())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	sess.Seq = seq

	payload, err := json.Marshal(sess)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: marshal: %w", err)
	}

	rowID, found, err := findSessionRow(ctx, tx, email, sess.SessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}

	if found {
		if _, err := tx.ExecContext(ctx,
			`delete from sessions where session_id = $1 and id <> $2`, sess.SessionID, rowID,
		); err != nil {
			return domain.Session{}, fmt.Errorf("upsert session: drop duplicate: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			update sessions
			set session_id = $1, client_email = $2, seq = $3, stage = $4, status = $5, updated_at = $6, payload = $7
			where id = $8
		`, sess.SessionID, email, seq, int(sess.Stage), string(sess.Status), sess.UpdatedAt.UTC(), payload, rowID)
	} else {
		_, err = tx.ExecContext(ctx, `
			insert into sessions (session_id, client_email, seq, stage, status, updated_at, payload)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, sess.SessionID, email, seq, int(sess.Stage), string(sess.Status), sess.UpdatedAt.UTC(), payload)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: commit: %w", err)
	}
	return sess, nil
}

func findSessionRow(ctx context.Context, tx *sql.Tx, email, sessionID string) (int64, bool, error) {
	var id int64
	if email != "" {
		err := tx.QueryRowContext(ctx, `
			select id from sessions where client_email = $1
			order by seq desc limit 1 for update
		`, email).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("find session by email: %w", err)
		}
	}

	err := tx.QueryRowContext(ctx, `select id from sessions where session_id = $1 for update`, sessionID).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("find session by id: %w", err)
	}
}

// ListAssignments returns every assignment ordered by seq.
func (s *Store) ListAssignments(ctx context.Context) ([]domain.QuestionnaireAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select payload from assignments
		order by seq asc, assignment_id asc
	`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := []domain.QuestionnaireAssignment{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		var a domain.QuestionnaireAssignment
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("unmarshal assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// UpsertAssignment saves a under its first id and returns the seq.
func (s *Store) UpsertAssignment(ctx context.Context, a domain.QuestionnaireAssignment) (int64, error) {
	key := assignmentKey(a)
	if key == "" {
		return 0, fmt.Errorf("upsert assignment: %w", store.ErrMissingKey)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("upsert assignment: marshal: %w", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		insert into assignments (assignment_id, client_email, seq, status, updated_at, payload)
		values ($1, $2, nextval('casewise_seq'), $3, $4, $5)
		on conflict (assignment_id) do update set
			client_email = excluded.client_email,
			seq = excluded.seq,
			status = excluded.status,
			updated_at = excluded.updated_at,
			payload = excluded.payload
		returning seq
	`, key, ident.NormalizeEmail(a.ClientEmail), string(a.Status), a.UpdatedAt.UTC(), payload).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("upsert assignment: %w", err)
	}
	return seq, nil
}

// CreateAccount inserts an account; ErrConflict if the email exists.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		insert into accounts (email, password_hash, created_at)
		values ($1, $2, $3)
		on conflict (email) do nothing
	`, ident.NormalizeEmail(email), passwordHash, at.UTC())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create account: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("create account %s: %w", email, store.ErrConflict)
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var v int64
	if err := tx.QueryRowContext(ctx, `select nextval('casewise_seq')`).Scan(&v); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (domain.Session, error) {
	var (
		seq     int64
		payload []byte
	)
	if err := sc.Scan(&seq, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if sess.SessionID == "" {
		sess.SessionID = sess.WorkflowID
	}
	sess.Seq = seq
	return sess, nil
}

func assignmentKey(a domain.QuestionnaireAssignment) string {
	for _, v := range []string{a.ID, a.LegacyID, a.OriginalID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
