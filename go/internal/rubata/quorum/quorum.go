// Package quorum implements the "every required member has acknowledged" gate
// shared by all rubata ready checks.
package quorum

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
)

// ErrNotRequired is returned when a member outside the required set acknowledges.
var ErrNotRequired = errors.New("member is not part of this quorum")

// Quorum tracks acknowledgements for one gate. A Quorum is not safe for
// concurrent use; the engine serializes access.
type Quorum struct {
	gate     models.QuorumGate
	required []uuid.UUID
	acked    map[uuid.UUID]struct{}
	order    []uuid.UUID
	forced   bool
	forcedBy *uuid.UUID
}

// Open starts a gate with an empty acked set.
func Open(gate models.QuorumGate, required []uuid.UUID) *Quorum {
	return &Quorum{
		gate:     gate,
		required: append([]uuid.UUID(nil), required...),
		acked:    make(map[uuid.UUID]struct{}, len(required)),
	}
}

// FromStatus rebuilds a Quorum from its persisted form.
func FromStatus(rs *models.ReadyStatus) *Quorum {
	if rs == nil {
		return nil
	}
	q := Open(rs.Gate, rs.Required)
	for _, id := range rs.Acked {
		if _, ok := q.acked[id]; ok {
			continue
		}
		q.acked[id] = struct{}{}
		q.order = append(q.order, id)
	}
	q.forced = rs.Forced
	if rs.ForcedBy != nil {
		by := *rs.ForcedBy
		q.forcedBy = &by
	}
	return q
}

// Gate returns the gate this quorum belongs to.
func (q *Quorum) Gate() models.QuorumGate { return q.gate }

// Ack records memberID. It reports whether the acked set changed; a repeated
// ack is a no-op and never re-triggers satisfaction.
func (q *Quorum) Ack(memberID uuid.UUID) (bool, error) {
	if !q.isRequired(memberID) {
		return false, ErrNotRequired
	}
	if _, ok := q.acked[memberID]; ok {
		return false, nil
	}
	q.acked[memberID] = struct{}{}
	q.order = append(q.order, memberID)
	return true, nil
}

// Force marks every required member as acknowledged. The organic acks are kept
// so the audit trail can tell them apart.
func (q *Quorum) Force(actor uuid.UUID) {
	q.forced = true
	q.forcedBy = &actor
}

// IsSatisfied reports acked ⊇ required, or a forced completion.
func (q *Quorum) IsSatisfied() bool {
	if q.forced {
		return true
	}
	for _, id := range q.required {
		if _, ok := q.acked[id]; !ok {
			return false
		}
	}
	return true
}

// Forced reports whether satisfaction came from an override.
func (q *Quorum) Forced() bool { return q.forced }

// AckedCount returns the number of distinct organic acks.
func (q *Quorum) AckedCount() int { return len(q.order) }

// Pending returns the required members that have not acknowledged yet.
func (q *Quorum) Pending() []uuid.UUID {
	var out []uuid.UUID
	for _, id := range q.required {
		if _, ok := q.acked[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Status returns the persisted form.
func (q *Quorum) Status() *models.ReadyStatus {
	rs := &models.ReadyStatus{
		Gate:     q.gate,
		Required: append([]uuid.UUID(nil), q.required...),
		Acked:    append([]uuid.UUID(nil), q.order...),
		Forced:   q.forced,
	}
	if q.forcedBy != nil {
		by := *q.forcedBy
		rs.ForcedBy = &by
	}
	return rs
}

func (q *Quorum) isRequired(id uuid.UUID) bool {
	for _, r := range q.required {
		if r == id {
			return true
		}
	}
	return false
}
