// Package metrics exposes problem-setup measurements as Prometheus
// collectors: per-level sizes, per-shard halo volume and phase timings.
package metrics

import (
	"strconv"
	"time"

	"github.com/notargets/HPCGKernel/matrix"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SetupMetrics holds the collectors. A nil *SetupMetrics records nothing.
type SetupMetrics struct {
	LevelsBuilt        prometheus.Counter
	LevelRows          *prometheus.GaugeVec
	LevelNonzeros      *prometheus.GaugeVec
	HaloNeighbors      *prometheus.GaugeVec
	HaloExternalValues *prometheus.GaugeVec
	HaloSendVolume     *prometheus.GaugeVec
	PhaseDuration      *prometheus.HistogramVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *SetupMetrics {
	factory := promauto.With(reg)
	return &SetupMetrics{
		LevelsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpcg_levels_built_total",
			Help: "Matrix levels allocated, generated and halo-configured",
		}),
		LevelRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcg_level_rows",
			Help: "Global rows per multigrid level",
		}, []string{"level"}),
		LevelNonzeros: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcg_level_nonzeros",
			Help: "Global nonzeros per multigrid level",
		}, []string{"level"}),
		HaloNeighbors: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcg_halo_neighbors",
			Help: "Neighbor shards per shard and level",
		}, []string{"level", "shard"}),
		HaloExternalValues: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcg_halo_external_values",
			Help: "Values received per halo exchange, per shard and level",
		}, []string{"level", "shard"}),
		HaloSendVolume: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcg_halo_send_volume",
			Help: "Values sent per halo exchange, per shard and level",
		}, []string{"level", "shard"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hpcg_setup_phase_duration_seconds",
			Help:    "Duration of setup phases",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"phase"}),
	}
}

// ObserveLevel records the sizes and halo volume of a configured level
func (sm *SetupMetrics) ObserveLevel(m *matrix.Matrix) {
	if sm == nil {
		return
	}
	level := strconv.Itoa(m.Level)
	sm.LevelsBuilt.Inc()
	sm.LevelRows.WithLabelValues(level).Set(float64(m.Geom.TotalRows()))
	sm.LevelNonzeros.WithLabelValues(level).Set(float64(m.TotalNumberOfNonzeros()))
	for _, sh := range m.Shards {
		shard := strconv.Itoa(sh.ID)
		sm.HaloNeighbors.WithLabelValues(level, shard).Set(float64(len(sh.Neighbors)))
		sm.HaloExternalValues.WithLabelValues(level, shard).Set(float64(sh.NumberOfExternalValues))
		sm.HaloSendVolume.WithLabelValues(level, shard).Set(float64(sh.TotalToBeSent))
	}
}

// ObservePhase records how long a setup phase took
func (sm *SetupMetrics) ObservePhase(phase string, d time.Duration) {
	if sm == nil {
		return
	}
	sm.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Since records the time elapsed from start under phase
func (sm *SetupMetrics) Since(phase string, start time.Time) {
	sm.ObservePhase(phase, time.Since(start))
}
