// Package prometheus exports nexus pipeline metrics to Prometheus.
package prometheus

import (
	"time"

	"github.com/hupe1980/nexus"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "nexus"

// Observer implements nexus.MetricsObserver with Prometheus collectors.
type Observer struct {
	opLatency    *prom.HistogramVec
	entities     *prom.GaugeVec
	merged       *prom.CounterVec
	remoteWrites *prom.CounterVec
	bundles      prom.Gauge
}

var _ nexus.MetricsObserver = (*Observer)(nil)

// NewObserver creates an Observer and registers its collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewObserver(reg prom.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	o := &Observer{
		opLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline phases",
			Buckets:   prom.ExponentialBuckets(0.01, 4, 10),
		}, []string{"op", "status"}),
		entities: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: Namespace,
			Name:      "entities",
			Help:      "Entities seen by the last run of each phase",
		}, []string{"op"}),
		merged: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "merged_rows_total",
			Help:      "Accumulator rows by outcome",
		}, []string{"outcome"}),
		remoteWrites: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "remote_writes_total",
			Help:      "Gated remote writes by result",
		}, []string{"result"}),
		bundles: prom.NewGauge(prom.GaugeOpts{
			Namespace: Namespace,
			Name:      "packed_bundles",
			Help:      "Bundles stored in shard files by the last pack",
		}),
	}
	for _, c := range []prom.Collector{o.opLatency, o.entities, o.merged, o.remoteWrites, o.bundles} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// MustNewObserver is NewObserver that panics on registration errors.
func MustNewObserver(reg prom.Registerer) *Observer {
	o, err := NewObserver(reg)
	if err != nil {
		panic(err)
	}
	return o
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// OnLoad implements nexus.MetricsObserver.
func (o *Observer) OnLoad(d time.Duration, count int, err error) {
	o.opLatency.WithLabelValues("load", status(err)).Observe(d.Seconds())
	o.entities.WithLabelValues("load").Set(float64(count))
}

// OnUpsert implements nexus.MetricsObserver.
func (o *Observer) OnUpsert(d time.Duration, inserted, updated, decayed int, err error) {
	o.opLatency.WithLabelValues("upsert", status(err)).Observe(d.Seconds())
	o.merged.WithLabelValues("inserted").Add(float64(inserted))
	o.merged.WithLabelValues("updated").Add(float64(updated))
	o.merged.WithLabelValues("decayed").Add(float64(decayed))
}

// OnSave implements nexus.MetricsObserver.
func (o *Observer) OnSave(d time.Duration, count int, err error) {
	o.opLatency.WithLabelValues("save", status(err)).Observe(d.Seconds())
	if err == nil {
		o.entities.WithLabelValues("save").Set(float64(count))
	}
}

// OnRemoteWrite implements nexus.MetricsObserver.
func (o *Observer) OnRemoteWrite(_ string, skipped bool) {
	if skipped {
		o.remoteWrites.WithLabelValues("skipped").Inc()
		return
	}
	o.remoteWrites.WithLabelValues("written").Inc()
}

// OnPack implements nexus.MetricsObserver.
func (o *Observer) OnPack(d time.Duration, entities, bundles int, err error) {
	o.opLatency.WithLabelValues("pack", status(err)).Observe(d.Seconds())
	if err == nil {
		o.entities.WithLabelValues("pack").Set(float64(entities))
		o.bundles.Set(float64(bundles))
	}
}
