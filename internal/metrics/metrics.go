package metrics

import (
	"math/big"
	"net/http"

	"custody-vault/internal/models"
	"custody-vault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "vault"

var _ vault.Recorder = (*Metrics)(nil)

// Metrics holds the daemon's Prometheus collectors on a private registry
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	volumeUSD  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	lastBlock  *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Successful vault operations by operation and asset.",
		}, []string{"op", "asset"}),
		volumeUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_volume_usd_total",
			Help:      "USD value moved by successful vault operations.",
		}, []string{"op", "asset"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected vault operations by operation and reason.",
		}, []string{"op", "reason"}),
		lastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_last_block",
			Help:      "Last block fully processed by a chain watcher.",
		}, []string{"watcher"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.volumeUSD,
		m.rejections,
		m.lastBlock,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveOperation(op string, asset common.Address, usd *big.Int) {
	label := models.AssetLabel(asset)
	m.operations.WithLabelValues(op, label).Inc()
	if usd != nil && usd.Sign() > 0 {
		amount, _ := decimal.NewFromBigInt(usd, -models.USDDecimals).Float64()
		m.volumeUSD.WithLabelValues(op, label).Add(amount)
	}
}

func (m *Metrics) ObserveRejection(op, reason string) {
	m.rejections.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) SetLastBlock(watcher string, block uint64) {
	m.lastBlock.WithLabelValues(watcher).Set(float64(block))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
