package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", c.Store.Driver)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, c.Booking.CancellationWindow)
	assert.Equal(t, 5, c.Booking.ValidityWeeks)
	assert.Equal(t, time.Hour, c.Sweeper.Interval)

	sc, err := c.ServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, sc.Engine.CancellationWindow)
	assert.Equal(t, 3, sc.Engine.MaxCommitRetries)
	assert.Equal(t, studio.SelectPurchaseOrder, sc.Engine.Selection)
	assert.Equal(t, "35.00 EUR", sc.Fee.Amount.String())
	assert.Equal(t, generic.PeriodCalendarYear, sc.Fee.Window.Type)
	assert.Equal(t, "Europe/Madrid", sc.Fee.Window.Location.String())
	assert.Equal(t, 2026, sc.Fee.SeasonStart.Year())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studio.yaml")
	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/studio.db
booking:
  cancellation_window: 12h
  selection: earliest_expiry
annual_fee:
  amount: "40.00"
  window: rolling
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("STUDIO_HTTP_ADDR", ":9090")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Equal(t, ":9090", c.HTTP.Addr)

	sc, err := c.ServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, sc.Engine.CancellationWindow)
	assert.Equal(t, studio.SelectEarliestExpiry, sc.Engine.Selection)
	assert.Equal(t, "40.00 EUR", sc.Fee.Amount.String())
	assert.Equal(t, generic.PeriodRolling, sc.Fee.Window.Type)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"driver", "STUDIO_STORE_DRIVER", "postgres"},
		{"selection", "STUDIO_BOOKING_SELECTION", "random"},
		{"window", "STUDIO_ANNUAL_FEE_WINDOW", "monthly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestServiceConfig_BadAmount(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.AnnualFee.Amount = "free"

	_, err = c.ServiceConfig()

	assert.Error(t, err)
}
