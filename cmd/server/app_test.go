package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amg/studio-ledger/config"
	"github.com/amg/studio-ledger/studio"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	c, err := config.Load("")
	require.NoError(t, err)
	c.App.LogLevel = "error"
	return c
}

func TestNewApp_Defaults(t *testing.T) {
	a, err := newApp(defaultConfig(t))
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.metrics)
	require.NotNil(t, a.sweeper)
	assert.Len(t, a.handler.Service.Plans(), 22)

	// The sweeper runs against the live service and stops cleanly.
	a.sweeper.Start()
	a.sweeper.Stop()
	n, err := a.handler.Service.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewApp_SweeperDisabled(t *testing.T) {
	c := defaultConfig(t)
	c.Sweeper.Enabled = false
	c.Metrics.Enabled = false

	a, err := newApp(c)
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.sweeper)
	assert.Nil(t, a.metrics)
}

func TestNewApp_RejectsFeeInAnotherCurrency(t *testing.T) {
	// GIVEN: euro plans and a fee configured in dollars
	c := defaultConfig(t)
	c.AnnualFee.Currency = "USD"

	// WHEN: building the app
	_, err := newApp(c)

	// THEN: startup fails before any price is quoted
	require.Error(t, err)
	assert.ErrorIs(t, err, studio.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "USD")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	c := defaultConfig(t)
	c.Store.Driver = "postgres"

	_, _, err := openStore(c)
	assert.ErrorContains(t, err, "postgres")
}
