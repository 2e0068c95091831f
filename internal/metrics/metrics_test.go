package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Cycles.WithLabelValues("committed").Inc()
	m.Orders.WithLabelValues("placed").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Orders.WithLabelValues("placed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNop_DoesNotPanicOnReuse(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Cycles.WithLabelValues("skipped").Inc()
		Nop().Cycles.WithLabelValues("skipped").Inc()
	})
}
