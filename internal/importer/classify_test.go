package importer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyScorecardHeaders(t *testing.T) {
	c, err := NewClassifier([]string{"3607", "6800", "728", "8101"}, "000")
	require.NoError(t, err)

	got := c.Classify([]string{
		"Week ending Sunday",
		"Total Weekly Revenue",
		"3607 Revenue",
		"6800 Revenue",
		"Revenue 728",
		"8101 Deliveries",
	})

	require.Equal(t, map[string]string{
		"Week ending Sunday":   "000",
		"Total Weekly Revenue": "000",
		"3607 Revenue":         "3607",
		"6800 Revenue":         "6800",
		"Revenue 728":          "728",
		"8101 Deliveries":      "8101",
	}, got)
}

func TestClassifyEmptyWhitelistFails(t *testing.T) {
	_, err := NewClassifier(nil, "000")
	require.ErrorIs(t, err, ErrNoLocationCodes)

	_, err = NewClassifier([]string{"  ", ""}, "000")
	require.ErrorIs(t, err, ErrNoLocationCodes)
}

func TestClassifyIgnoresEmbeddedDigits(t *testing.T) {
	c, err := NewClassifier([]string{"728"}, "000")
	require.NoError(t, err)

	got := c.Classify([]string{
		"Acct 17285 Revenue",
		"FY2728 Target",
		"728 Revenue",
	})

	require.Equal(t, "000", got["Acct 17285 Revenue"])
	require.Equal(t, "000", got["FY2728 Target"])
	require.Equal(t, "728", got["728 Revenue"])
}

func TestClassifyPrefersLongestCode(t *testing.T) {
	c, err := NewClassifier([]string{"80", "8101"}, "000")
	require.NoError(t, err)

	got := c.Classify([]string{"8101 Revenue"})
	require.Equal(t, "8101", got["8101 Revenue"])
}
