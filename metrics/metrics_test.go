package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/amg/studio-ledger/studio"
)

func TestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.OperationCompleted(studio.OpCreateBooking, "", 3*time.Millisecond)
	m.OperationCompleted(studio.OpCreateBooking, studio.CodeClassFull, time.Millisecond)
	m.OperationCompleted(studio.OpCreateBooking, studio.CodeClassFull, time.Millisecond)
	m.SubscriptionsExpired(2)
	m.SubscriptionsExpired(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues(studio.OpCreateBooking, "OK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues(studio.OpCreateBooking, string(studio.CodeClassFull))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.expired))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestMustNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewMetrics(reg)

	assert.Panics(t, func() { MustNewMetrics(reg) })
}
