package prometheus

import (
	"errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the value of the sample of name whose labels match.
func value(t *testing.T, reg *prom.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestObserver(t *testing.T) {
	reg := prom.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)

	o.OnLoad(time.Second, 120, nil)
	o.OnUpsert(time.Second, 3, 7, 110, nil)
	o.OnUpsert(time.Second, 1, 0, 0, errors.New("boom"))
	o.OnSave(time.Second, 123, nil)
	o.OnRemoteWrite("registry/part-000.json.gz", false)
	o.OnRemoteWrite("registry/part-001.json.gz", true)
	o.OnRemoteWrite("registry/manifest.json", true)
	o.OnPack(time.Second, 123, 4, nil)

	assert.Equal(t, 120.0, value(t, reg, "nexus_entities", map[string]string{"op": "load"}))
	assert.Equal(t, 123.0, value(t, reg, "nexus_entities", map[string]string{"op": "save"}))
	assert.Equal(t, 4.0, value(t, reg, "nexus_merged_rows_total", map[string]string{"outcome": "inserted"}))
	assert.Equal(t, 110.0, value(t, reg, "nexus_merged_rows_total", map[string]string{"outcome": "decayed"}))
	assert.Equal(t, 1.0, value(t, reg, "nexus_remote_writes_total", map[string]string{"result": "written"}))
	assert.Equal(t, 2.0, value(t, reg, "nexus_remote_writes_total", map[string]string{"result": "skipped"}))
	assert.Equal(t, 4.0, value(t, reg, "nexus_packed_bundles", nil))
	assert.Equal(t, 1.0, value(t, reg, "nexus_operation_duration_seconds", map[string]string{"op": "upsert", "status": "error"}))
	assert.Equal(t, 1.0, value(t, reg, "nexus_operation_duration_seconds", map[string]string{"op": "upsert", "status": "success"}))
}

func TestObserver_DuplicateRegistration(t *testing.T) {
	reg := prom.NewRegistry()
	_, err := NewObserver(reg)
	require.NoError(t, err)

	_, err = NewObserver(reg)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNewObserver(reg) })
}
