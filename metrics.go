package nexus

import (
	"sync/atomic"
	"time"
)

// MetricsObserver receives pipeline events.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
type MetricsObserver interface {
	// OnLoad is called after the baseline of a pass has been streamed.
	OnLoad(duration time.Duration, count int, err error)

	// OnUpsert is called after the merge phase of a pass.
	OnUpsert(duration time.Duration, inserted, updated, decayed int, err error)

	// OnSave is called after a registry save.
	OnSave(duration time.Duration, count int, err error)

	// OnRemoteWrite is called for every gated remote write. skipped is true
	// when the remote copy already matched.
	OnRemoteWrite(name string, skipped bool)

	// OnPack is called after an artifact build.
	OnPack(duration time.Duration, entities, bundles int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnLoad(time.Duration, int, error)             {}
func (NoopMetricsObserver) OnUpsert(time.Duration, int, int, int, error) {}
func (NoopMetricsObserver) OnSave(time.Duration, int, error)             {}
func (NoopMetricsObserver) OnRemoteWrite(string, bool)                   {}
func (NoopMetricsObserver) OnPack(time.Duration, int, int, error)        {}

// BasicMetricsObserver provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsObserver struct {
	Loads          atomic.Int64
	LoadErrors     atomic.Int64
	LoadedEntities atomic.Int64
	Upserts        atomic.Int64
	UpsertErrors   atomic.Int64
	Inserted       atomic.Int64
	Updated        atomic.Int64
	Decayed        atomic.Int64
	Saves          atomic.Int64
	SaveErrors     atomic.Int64
	SaveNanos      atomic.Int64
	RemoteWrites   atomic.Int64
	RemoteSkips    atomic.Int64
	Packs          atomic.Int64
	PackErrors     atomic.Int64
}

// OnLoad implements MetricsObserver.
func (b *BasicMetricsObserver) OnLoad(_ time.Duration, count int, err error) {
	b.Loads.Add(1)
	b.LoadedEntities.Add(int64(count))
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// OnUpsert implements MetricsObserver.
func (b *BasicMetricsObserver) OnUpsert(_ time.Duration, inserted, updated, decayed int, err error) {
	b.Upserts.Add(1)
	b.Inserted.Add(int64(inserted))
	b.Updated.Add(int64(updated))
	b.Decayed.Add(int64(decayed))
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// OnSave implements MetricsObserver.
func (b *BasicMetricsObserver) OnSave(d time.Duration, _ int, err error) {
	b.Saves.Add(1)
	b.SaveNanos.Add(d.Nanoseconds())
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// OnRemoteWrite implements MetricsObserver.
func (b *BasicMetricsObserver) OnRemoteWrite(_ string, skipped bool) {
	if skipped {
		b.RemoteSkips.Add(1)
		return
	}
	b.RemoteWrites.Add(1)
}

// OnPack implements MetricsObserver.
func (b *BasicMetricsObserver) OnPack(_ time.Duration, _, _ int, err error) {
	b.Packs.Add(1)
	if err != nil {
		b.PackErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Loads:          b.Loads.Load(),
		LoadErrors:     b.LoadErrors.Load(),
		LoadedEntities: b.LoadedEntities.Load(),
		Upserts:        b.Upserts.Load(),
		UpsertErrors:   b.UpsertErrors.Load(),
		Inserted:       b.Inserted.Load(),
		Updated:        b.Updated.Load(),
		Decayed:        b.Decayed.Load(),
		Saves:          b.Saves.Load(),
		SaveErrors:     b.SaveErrors.Load(),
		SaveAvgNanos:   b.avgSaveNanos(),
		RemoteWrites:   b.RemoteWrites.Load(),
		RemoteSkips:    b.RemoteSkips.Load(),
		Packs:          b.Packs.Load(),
		PackErrors:     b.PackErrors.Load(),
	}
}

func (b *BasicMetricsObserver) avgSaveNanos() int64 {
	count := b.Saves.Load()
	if count == 0 {
		return 0
	}
	return b.SaveNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	Loads          int64
	LoadErrors     int64
	LoadedEntities int64
	Upserts        int64
	UpsertErrors   int64
	Inserted       int64
	Updated        int64
	Decayed        int64
	Saves          int64
	SaveErrors     int64
	SaveAvgNanos   int64
	RemoteWrites   int64
	RemoteSkips    int64
	Packs          int64
	PackErrors     int64
}
