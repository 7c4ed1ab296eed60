package wizard

import (
	"context"
	"strings"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/matcher"
	"github.com/roach88/casewise/internal/merge"
)

// startAutoFill launches the background match for the live client's
// email. It returns at once; the result is merged when it arrives, even
// if the user has moved on by then.
func (m *Machine) startAutoFill(ctx context.Context) {
	if !m.autoFill || m.finder == nil {
		return
	}
	m.mu.Lock()
	email := strings.TrimSpace(m.live.ClientEmail())
	hint := matcher.Hint{AssignmentID: m.live.Assignment.ID, SkipSessionID: m.live.Key()}
	m.mu.Unlock()
	if email == "" {
		m.logger.Debug("auto-fill skipped, no client email")
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.autoFillTimeout)
		defer cancel()
		match, err := m.finder.Find(ctx, matcher.Key{ClientEmail: email}, hint)
		m.applyAutoFill(match, err, email)
	}()
}

// applyAutoFill folds match into whatever the live session is now. A pool
// error leaves the session alone and raises a notice instead.
func (m *Machine) applyAutoFill(match *matcher.Match, err error, email string) {
	if err != nil {
		m.mu.Lock()
		stage := m.live.Stage
		m.mu.Unlock()
		se := poolFailure(stage, "auto-fill", err)
		level := LevelFatal
		if se.Code == CodeAuthentication {
			level = LevelError
		}
		m.logger.Warn("auto-fill pool unavailable", "error", err)
		m.notify(level, stage, "auto-fill", se.Message)
		return
	}
	if match == nil {
		m.logger.Debug("auto-fill found no saved session", "email", email)
		return
	}
	if conflicts(match, email) {
		m.logger.Debug("auto-fill ignored another client's session", "session_id", match.Session.Key())
		return
	}

	m.mu.Lock()
	merged, adopted := merge.IntoLive(match.Session, m.live)
	merged.Credentials.Secret = m.live.Credentials.Secret
	m.live = merged
	stage := merged.Stage
	m.mu.Unlock()

	m.logger.Info("auto-fill merged",
		"session_id", merged.Key(),
		"from", match.Session.Key(),
		"tier", match.Tier.String(),
		"adopted", len(adopted),
	)
	if len(adopted) > 0 {
		m.notify(LevelInfo, stage, "auto-fill", "filled "+strings.Join(adopted, ", ")+" from "+match.Session.Key())
	}
}

// autoFillStage is where the background match is launched.
const autoFillStage = domain.StageAnswers
