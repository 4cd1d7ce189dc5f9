package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderUpdateBuild(t *testing.T) {
	u := newOrderUpdate(42)
	u.set(colStatus, "shipped")
	u.set(colTrackingCode, "BR1")

	sql, args := u.build()
	assert.Equal(t, "UPDATE orders SET status = $1, tracking_code = $2, updated_at = now() WHERE id = $3", sql)
	assert.Equal(t, []any{"shipped", "BR1", int64(42)}, args)
}

func TestOrderUpdateBuild_LastWriteWins(t *testing.T) {
	u := newOrderUpdate(7)
	u.set(colTrackingCode, "first")
	u.set(colTrackingCode, nil)

	sql, args := u.build()
	assert.Equal(t, "UPDATE orders SET tracking_code = $1, updated_at = now() WHERE id = $2", sql)
	assert.Equal(t, []any{nil, int64(7)}, args)
}
