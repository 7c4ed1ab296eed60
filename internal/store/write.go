package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/domain"
)

// seqCounter is the counter every write draws its seq from.
const seqCounter = "seq"

// UpsertSession saves a session and returns it as stored, with Seq set.
//
// The row to replace is found by client email first, then by session id;
// if neither matches, a new row is appended. The lookup and the write run
// in one transaction, so concurrent saves of the same session never
// produce two rows. The payload is written from s.Sanitized(), so the
// credential secret is never stored.
func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	sess = sess.Sanitized()
	if strings.TrimSpace(sess.SessionID) == "" {
		return domain.Session{}, fmt.Errorf("upsert session: %w", ErrMissingKey)
	}
	email := emailKey(sess.ClientEmail())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seq, err := nextCounter(ctx, tx, seqCounter)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	sess.Seq = seq

	payload, err := marshalSession(sess)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}

	rowID, found, err := findSessionRow(ctx, tx, email, sess.SessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}

	if found {
		// An email match may leave an older row holding this session id.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE session_id = ? AND id <> ?`,
			sess.SessionID, rowID,
		); err != nil {
			return domain.Session{}, fmt.Errorf("upsert session: drop duplicate: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions
			SET session_id = ?, client_email = ?, seq = ?, stage = ?, status = ?, updated_at = ?, payload = ?
			WHERE id = ?
		`,
			sess.SessionID, email, sess.Seq, int(sess.Stage), string(sess.Status),
			formatTime(sess.UpdatedAt), payload, rowID,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions
			(session_id, client_email, seq, stage, status, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			sess.SessionID, email, sess.Seq, int(sess.Stage), string(sess.Status),
			formatTime(sess.UpdatedAt), payload,
		)
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
			SELECT id FROM sessions WHERE client_email = ?
			ORDER BY seq DESC LIMIT 1
		`, email).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("find session by email: %w", err)
		}
	}

	err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("find session by id: %w", err)
	}
}

// UpsertAssignment saves an assignment keyed by its first id and returns
// the seq it was written at.
func (s *Store) UpsertAssignment(ctx context.Context, a domain.QuestionnaireAssignment) (int64, error) {
	key := assignmentKey(a)
	if key == "" {
		return 0, fmt.Errorf("upsert assignment: %w", ErrMissingKey)
	}
	payload, err := marshalAssignment(a)
	if err != nil {
		return 0, fmt.Errorf("upsert assignment: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert assignment: begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextCounter(ctx, tx, seqCounter)
	if err != nil {
		return 0, fmt.Errorf("upsert assignment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignments (assignment_id, client_email, seq, status, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(assignment_id) DO UPDATE SET
			client_email = excluded.client_email,
			seq = excluded.seq,
			status = excluded.status,
			updated_at = excluded.updated_at,
			payload = excluded.payload
	`, key, emailKey(a.ClientEmail), seq, string(a.Status), formatTime(a.UpdatedAt), payload)
	if err != nil {
		return 0, fmt.Errorf("upsert assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert assignment: commit: %w", err)
	}
	return seq, nil
}

// PutSummary replaces the credential summary record.
func (s *Store) PutSummary(ctx context.Context, sum domain.CredentialSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_summary (id, email, account_requested, requested_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			account_requested = excluded.account_requested,
			requested_at = excluded.requested_at
	`, sum.Email, sum.AccountRequested, formatTime(sum.RequestedAt))
	if err != nil {
		return fmt.Errorf("put credential summary: %w", err)
	}
	return nil
}

// CreateAccount records a portal account. passwordHash must already be
// hashed. Returns ErrConflict if the email is taken.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, password_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO NOTHING
	`, emailKey(email), passwordHash, formatTime(at))
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create account: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("create account %s: %w", email, ErrConflict)
	}
	return nil
}

// NextCounter increments the named counter and returns its new value.
// The first call for a name returns 1.
func (s *Store) NextCounter(ctx context.Context, name string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("next counter: begin tx: %w", err)
	}
	defer tx.Rollback()

	v, err := nextCounter(ctx, tx, name)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("next counter: commit: %w", err)
	}
	return v, nil
}

func nextCounter(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next counter %s: %w", name, err)
	}
	return v, nil
}
