package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

func TestPayout(t *testing.T) {
	cases := []struct {
		name         string
		stake        int64
		winningTotal int64
		totalPool    int64
		payout       int64
		fee          int64
	}{
		{
			// Two equal stakes on opposite outcomes: the winner takes the
			// doubled stake minus the 2% fee.
			name:         "even pool",
			stake:        units(5),
			winningTotal: units(5),
			totalPool:    units(10),
			payout:       9_800_000,
			fee:          200_000,
		},
		{
			name:         "proportional split large share",
			stake:        units(6),
			winningTotal: units(10),
			totalPool:    units(22),
			payout:       12_936_000,
			fee:          264_000,
		},
		{
			name:         "proportional split small share",
			stake:        units(4),
			winningTotal: units(10),
			totalPool:    units(22),
			payout:       8_624_000,
			fee:          176_000,
		},
		{
			name:         "sole winner keeps own stake minus fee",
			stake:        units(5),
			winningTotal: units(5),
			totalPool:    units(5),
			payout:       4_900_000,
			fee:          100_000,
		},
		{
			name:         "no stake on winning side",
			stake:        units(5),
			winningTotal: 0,
			totalPool:    units(5),
			payout:       0,
			fee:          0,
		},
		{
			// Division truncates toward zero before the fee is taken.
			name:         "truncating division",
			stake:        1,
			winningTotal: 3,
			totalPool:    10,
			payout:       3,
			fee:          0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payout, fee := Payout(tc.stake, tc.winningTotal, tc.totalPool)
			assert.Equal(t, tc.payout, payout)
			assert.Equal(t, tc.fee, fee)
		})
	}
}

func TestPayoutNeverExceedsPoolShare(t *testing.T) {
	// Across an uneven three-winner pool the sum of payouts plus fees never
	// exceeds the pool.
	stakes := []int64{units(7), units(11), units(2)}
	var winningTotal int64
	for _, s := range stakes {
		winningTotal += s
	}
	totalPool := winningTotal + units(13)

	var paid int64
	for _, s := range stakes {
		payout, fee := Payout(s, winningTotal, totalPool)
		paid += payout + fee
	}
	assert.LessOrEqual(t, paid, totalPool)
}

func TestTotalsTableWriteOnce(t *testing.T) {
	table := newTotalsTable()

	totals := domain.EventTotals{EventID: "ev", TotalPool: units(10)}
	assert.NoError(t, table.put(totals))
	assert.ErrorIs(t, table.put(totals), domain.ErrAlreadySettled)

	got, ok := table.get("ev")
	assert.True(t, ok)
	assert.Equal(t, units(10), got.TotalPool)
}

func TestTotalsTableDropReopensSlot(t *testing.T) {
	table := newTotalsTable()

	totals := domain.EventTotals{EventID: "ev", TotalPool: units(10)}
	require.NoError(t, table.put(totals))

	table.drop("ev")
	_, ok := table.get("ev")
	assert.False(t, ok)

	// A later write-once attempt succeeds again; only a stored snapshot
	// blocks it.
	assert.NoError(t, table.put(totals))
}

func TestTotalsTableFeeAccrual(t *testing.T) {
	table := newTotalsTable()

	table.addFee("ev", 200_000)
	table.addFee("ev", 100_000)
	table.addFee("ev", 0)
	table.addFee("ev", -5)
	assert.Equal(t, int64(300_000), table.Fees("ev"))

	assert.Equal(t, int64(300_000), table.takeFees("ev"))
	assert.Equal(t, int64(0), table.Fees("ev"))
	assert.Equal(t, int64(0), table.takeFees("ev"))
}
