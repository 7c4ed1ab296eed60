package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/casewise/internal/domain"
)

// ListSessions returns every cached session ordered by seq ASC,
// session_id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the cache is empty.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, payload FROM sessions
		ORDER BY seq ASC, session_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, payload FROM sessions WHERE session_id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess, err
}

// ListAssignments returns every cached assignment ordered by seq ASC.
func (s *Store) ListAssignments(ctx context.Context) ([]domain.QuestionnaireAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM assignments
		ORDER BY seq ASC, assignment_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := []domain.QuestionnaireAssignment{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a, err := unmarshalAssignment(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// GetSummary returns the credential summary record, or ErrNotFound.
func (s *Store) GetSummary(ctx context.Context) (domain.CredentialSummary, error) {
	var (
		sum         domain.CredentialSummary
		requestedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email, account_requested, requested_at FROM credential_summary WHERE id = 1
	`).Scan(&sum.Email, &sum.AccountRequested, &requestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CredentialSummary{}, fmt.Errorf("credential summary: %w", ErrNotFound)
	}
	if err != nil {
		return domain.CredentialSummary{}, fmt.Errorf("query credential summary: %w", err)
	}
	if sum.RequestedAt, err = parseTime(requestedAt); err != nil {
		return domain.CredentialSummary{}, fmt.Errorf("credential summary: %w", err)
	}
	return sum, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (domain.Session, error) {
	var (
		seq     int64
		payload string
	)
	if err := sc.Scan(&seq, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess, err := unmarshalSession(payload)
	if err != nil {
		return domain.Session{}, err
	}
	sess.Seq = seq
	return sess, nil
}
