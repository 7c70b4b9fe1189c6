package sqlutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNullableRoundTrips(t *testing.T) {
	three := 3
	assert.Equal(t, &three, FromSqlInt32(ToSqlInt32(&three)))
	assert.Nil(t, FromSqlInt32(ToSqlInt32(nil)))

	bid := int64(40)
	assert.Equal(t, &bid, FromSqlInt64(ToSqlInt64(&bid)))
	assert.Nil(t, FromSqlInt64(sql.NullInt64{}))

	id := uuid.New()
	assert.Equal(t, &id, FromNullUUID(ToNullUUID(&id)))
	assert.Nil(t, FromNullUUID(ToNullUUID(nil)))
}

func TestMillis(t *testing.T) {
	at := time.Date(2026, time.March, 3, 9, 15, 30, 123_000_000, time.FixedZone("x", 3600))
	got := FromMillis(ToMillis(at))
	assert.True(t, at.Equal(got))
	assert.Equal(t, time.UTC, got.Location())

	assert.Nil(t, FromNullMillis(ToNullMillis(nil)))
	back := FromNullMillis(ToNullMillis(&at))
	if assert.NotNil(t, back) {
		assert.True(t, at.Equal(*back))
	}
}
