package quorum

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestQuorumSatisfiedWhenAllAck(t *testing.T) {
	m := members(3)
	q := Open(models.QuorumGateReadyCheck, m)

	for i, id := range m {
		require.False(t, q.IsSatisfied(), "satisfied after %d acks", i)
		changed, err := q.Ack(id)
		require.NoError(t, err)
		require.True(t, changed)
	}
	assert.True(t, q.IsSatisfied())
	assert.Empty(t, q.Pending())
}

func TestQuorumAckIsIdempotent(t *testing.T) {
	m := members(3)
	q := Open(models.QuorumGatePendingAck, m)

	changed, err := q.Ack(m[0])
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = q.Ack(m[0])
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, q.AckedCount())
	assert.Len(t, q.Pending(), 2)
}

func TestQuorumRejectsOutsider(t *testing.T) {
	q := Open(models.QuorumGateReadyCheck, members(2))

	_, err := q.Ack(uuid.New())
	assert.ErrorIs(t, err, ErrNotRequired)
	assert.Equal(t, 0, q.AckedCount())
}

func TestQuorumForceKeepsOrganicAcks(t *testing.T) {
	m := members(3)
	admin := uuid.New()
	q := Open(models.QuorumGateReadyCheck, m)
	_, err := q.Ack(m[1])
	require.NoError(t, err)

	q.Force(admin)

	assert.True(t, q.IsSatisfied())
	assert.True(t, q.Forced())
	rs := q.Status()
	assert.Equal(t, []uuid.UUID{m[1]}, rs.Acked)
	require.NotNil(t, rs.ForcedBy)
	assert.Equal(t, admin, *rs.ForcedBy)
}

func TestQuorumStatusRoundTrip(t *testing.T) {
	m := members(2)
	q := Open(models.QuorumGateAwaitingResume, m)
	_, err := q.Ack(m[0])
	require.NoError(t, err)

	back := FromStatus(q.Status())
	assert.Equal(t, models.QuorumGateAwaitingResume, back.Gate())
	assert.Equal(t, 1, back.AckedCount())
	assert.Equal(t, []uuid.UUID{m[1]}, back.Pending())
	assert.Nil(t, FromStatus(nil))
}

func TestQuorumEmptyRequiredIsSatisfied(t *testing.T) {
	q := Open(models.QuorumGateReadyCheck, nil)
	assert.True(t, q.IsSatisfied())
}
