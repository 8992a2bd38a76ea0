package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "manifoldchain",
		Name:      "chain_height",
		Help:      "Longest-chain height of the local shard.",
	})

	VerifiedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "manifoldchain",
		Name:      "verified_height",
		Help:      "Longest fully-verified chain height of the local shard.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "manifoldchain",
		Name:      "mempool_size",
		Help:      "Pending transactions in the mempool.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "manifoldchain",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	BlocksMined = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manifoldchain",
		Name:      "blocks_mined_total",
		Help:      "Blocks mined locally by kind.",
	}, []string{"kind"})

	BlocksInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manifoldchain",
		Name:      "blocks_inserted_total",
		Help:      "Blocks inserted into the local multichain by result.",
	}, []string{"result"})

	FraudProofs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manifoldchain",
		Name:      "fraud_proofs_total",
		Help:      "Fraud proofs produced or received, by kind.",
	}, []string{"kind"})

	ConfirmedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manifoldchain",
		Name:      "confirmed_blocks_total",
		Help:      "Blocks promoted to confirmed in the local shard.",
	})

	SettledOutputs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manifoldchain",
		Name:      "settled_outputs_total",
		Help:      "Cross-shard outputs settled, by decision.",
	}, []string{"decision"})

	SamplesVerified = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manifoldchain",
		Name:      "samples_verified_total",
		Help:      "Foreign blocks verified through data-availability samples.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		VerifiedHeight,
		MempoolSize,
		PeersConnected,
		BlocksMined,
		BlocksInserted,
		FraudProofs,
		ConfirmedBlocks,
		SettledOutputs,
		SamplesVerified,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
