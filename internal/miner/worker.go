package miner

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
)

// Sink is where mined blocks go: the same insertion path network blocks
// take.
type Sink interface {
	ProcessMined(blk *block.Block) bool
}

// Publisher is the outbound peer-layer handle the worker and the sample
// verifier need.
type Publisher interface {
	AnnounceBlock(blk *block.Block)
	PublishTransactions(shardID int, txs []*types.Transaction)
	PublishTestimonies(shardID int, tmys []*types.Testimony)
	RequestSamples(reqs []validator.SampleIndex)
}

// Worker drains the miner's event stream: inserts each mined block
// locally, then gossips the block and its derived artifacts.
type Worker struct {
	miner     *Miner
	sink      Sink
	publisher Publisher
	cfg       *config.Config
	logger    *zap.Logger
}

// NewWorker wires the worker to the miner's output.
func NewWorker(m *Miner, sink Sink, pub Publisher, cfg *config.Config, logger *zap.Logger) *Worker {
	return &Worker{miner: m, sink: sink, publisher: pub, cfg: cfg, logger: logger}
}

// Run consumes mined blocks until ctx is cancelled. Start it on its own
// goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.miner.Events():
			w.handle(ev)
		}
	}
}

func (w *Worker) handle(ev Event) {
	if !w.sink.ProcessMined(ev.Block) {
		w.logger.Warn("mined block rejected locally", zap.Stringer("block", ev.Block.Hash()))
		return
	}
	w.publisher.AnnounceBlock(ev.Block)
	for shard, tmys := range ev.Testimonies {
		w.publisher.PublishTestimonies(shard, tmys)
	}
	for shard, txs := range ev.OutputTxs {
		w.publisher.PublishTransactions(shard, txs)
	}
}

// SampleVerifier periodically scans every tracked chain for Unverified
// foreign blocks and asks peers for data-availability samples at a random
// transaction index.
type SampleVerifier struct {
	multichain *multichain.Multichain
	publisher  Publisher
	cfg        *config.Config
	logger     *zap.Logger
	interval   time.Duration
	rng        *rand.Rand
}

// NewSampleVerifier creates the scanner with the given poll interval.
func NewSampleVerifier(mc *multichain.Multichain, pub Publisher, cfg *config.Config, interval time.Duration, logger *zap.Logger) *SampleVerifier {
	return &SampleVerifier{
		multichain: mc,
		publisher:  pub,
		cfg:        cfg,
		logger:     logger,
		interval:   interval,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run polls until ctx is cancelled. Start it on its own goroutine.
func (sv *SampleVerifier) Run(ctx context.Context) {
	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.scan()
		}
	}
}

func (sv *SampleVerifier) scan() {
	targets := sv.multichain.UnverifiedBlocks()
	if len(targets) == 0 {
		return
	}
	reqs := make([]validator.SampleIndex, 0, len(targets))
	for _, t := range targets {
		reqs = append(reqs, validator.SampleIndex{
			BlockHash: t.BlockHash,
			TxIndex:   uint32(sv.rng.Intn(sv.cfg.BlockSize)),
			ShardID:   t.ShardID,
		})
	}
	sv.logger.Debug("requesting samples", zap.Int("blocks", len(reqs)))
	sv.publisher.RequestSamples(reqs)
}
