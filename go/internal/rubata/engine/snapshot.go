package engine

import (
	"math"
	"time"

	"github.com/mcdev12/rubata/go/internal/models"
)

// Snapshot is a read-only view of a session. Countdowns are derived from the
// server deadline at read time.
type Snapshot struct {
	Session          *models.Session `json:"session"`
	TimeRemainingSec int64           `json:"time_remaining_sec"`
	ServerTime       time.Time       `json:"server_time"`
}

// Snapshot returns a deep copy of the current session.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	s := e.session.Clone()
	return Snapshot{
		Session:          s,
		TimeRemainingSec: remainingSeconds(s, now),
		ServerTime:       now,
	}
}

func remainingSeconds(s *models.Session, now time.Time) int64 {
	var d time.Duration
	switch {
	case s.Phase == models.RubataPhasePaused:
		d = s.PausedRemaining
	case s.TimerExpiresAt != nil:
		d = s.TimerExpiresAt.Sub(now)
	}
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
