package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDayBuckets(t *testing.T) {
	cases := []struct {
		now        time.Time
		expectDay  string
		expectAgo3 time.Time
	}{
		{
			now:        time.Date(2024, time.August, 26, 13, 30, 0, 0, Location),
			expectDay:  "2024-08-26",
			expectAgo3: time.Date(2024, time.August, 23, 0, 0, 0, 0, Location),
		},
		{
			now:        time.Date(2024, time.September, 1, 0, 0, 0, 0, Location),
			expectDay:  "2024-09-01",
			expectAgo3: time.Date(2024, time.August, 29, 0, 0, 0, 0, Location),
		},
	}

	for _, test := range cases {
		require.Equal(t, test.expectDay, Day(test.now))
		require.Equal(t, test.expectAgo3, DaysAgo(test.now, 3))

		parsed, err := ParseDay(Day(test.now))
		require.NoError(t, err)
		require.Equal(t, StartOfDay(test.now), parsed)
	}
}
