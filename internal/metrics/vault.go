// Package metrics exposes Prometheus collectors for vault operations.
package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type VaultMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	totalDeposits prometheus.Gauge
	stranded      *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault collectors, registering them with the
// default registry on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "capvault_operations_total",
				Help: "Count of vault operations by type, outcome and failure reason.",
			}, []string{"operation", "outcome", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "capvault_operation_duration_seconds",
				Help:    "Latency of vault operations including external interactions.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			}, []string{"operation"}),
			totalDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capvault_total_deposits",
				Help: "Total deposits held by the vault in unit-of-account base units.",
			}),
			stranded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "capvault_conversions_stranded_total",
				Help: "Conversions whose input stayed in custody uncredited, by input asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.totalDeposits,
			vaultRegistry.stranded,
		)
	})
	return vaultRegistry
}

// ObserveOperation records one finished operation. An empty reason means
// success.
func (m *VaultMetrics) ObserveOperation(operation, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if reason != "" {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome, reason).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *VaultMetrics) SetTotalDeposits(total *uint256.Int) {
	if m == nil || total == nil {
		return
	}
	f, _ := new(big.Float).SetInt(total.ToBig()).Float64()
	m.totalDeposits.Set(f)
}

func (m *VaultMetrics) ObserveStranded(asset string) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.stranded.WithLabelValues(asset).Inc()
}
