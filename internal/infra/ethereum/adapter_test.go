package ethereum

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffObservationRefIndependentOfPollTiming(t *testing.T) {
	last := decimal.RequireFromString("5")
	cur := decimal.RequireFromString("8")

	// 两个节点不管隔了多少个块才轮询到，同一段水位差必须是同一个键
	a := diffObservation("native", "0xAbCd", last, cur, 6)
	b := diffObservation("native", "0xabcd", last, cur, 6)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ExternalRef, b[0].ExternalRef)
	assert.Equal(t, "native:0xabcd:5:8", a[0].ExternalRef)

	assert.Equal(t, "3", a[0].Amount.String())
	assert.EqualValues(t, 6, a[0].Confirmations)
	require.NotNil(t, a[0].Cursor)
	assert.Equal(t, "5", a[0].Cursor.From.String())
	assert.Equal(t, "8", a[0].Cursor.To.String())
}

func TestDiffObservationIgnoresOutflows(t *testing.T) {
	// 余额不变或变少 (归集/提现出账) 都不是入金
	assert.Nil(t, diffObservation("native", "0xabcd",
		decimal.RequireFromString("5"), decimal.RequireFromString("5"), 6))
	assert.Nil(t, diffObservation("native", "0xabcd",
		decimal.RequireFromString("5"), decimal.RequireFromString("2"), 6))
}

func TestDiffObservationTokenTag(t *testing.T) {
	obs := diffObservation("0xdac17f958d2ee523a2206206994597c13d831ec7", "0xAbCd",
		decimal.Zero, decimal.RequireFromString("100"), 6)
	require.Len(t, obs, 1)
	assert.Equal(t, "0xdac17f958d2ee523a2206206994597c13d831ec7:0xabcd:0:100", obs[0].ExternalRef)
}
