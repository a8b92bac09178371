package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		LocationCodes:                  []string{"3607", "6800"},
		AggregateCode:                  "000",
		WeekEndingDay:                  0,
		CorrelationSimilarityThreshold: 0.7,
		ReconcileQtyTolerance:          0.10,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfigRejectsEmptyLocationCodes(t *testing.T) {
	cfg := validConfig()
	cfg.LocationCodes = []string{" ", ""}
	require.Error(t, cfg.Validate(), "an empty whitelist must fail before imports start")
}

func TestConfigRejectsBadWeekEndingDay(t *testing.T) {
	cfg := validConfig()
	cfg.WeekEndingDay = 7
	require.Error(t, cfg.Validate())
}

func TestConfigRejectsBadThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.CorrelationSimilarityThreshold = 1.5
	require.Error(t, cfg.Validate())
}
