package p2p

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/metrics"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/node"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

const seenCacheSize = 65536

// Worker dispatches incoming wire messages: the pull protocol for
// transactions, testimonies, and blocks, fraud-proof verification, and
// data-availability sampling. Several workers may run in parallel over the
// same channel.
type Worker struct {
	network    *Network
	engine     *node.Engine
	multichain *multichain.Multichain
	mempool    *mempool.Mempool
	validator  *validator.Validator
	cfg        *config.Config
	logger     *zap.Logger

	// seen de-duplicates announced hashes; limiter bounds how fast the
	// node reacts to inbound gossip overall.
	seen    *lru.Cache[hash.H256, struct{}]
	limiter *rate.Limiter
}

// NewWorker wires a dispatch worker.
func NewWorker(n *Network, engine *node.Engine, mc *multichain.Multichain, mp *mempool.Mempool, val *validator.Validator, cfg *config.Config, logger *zap.Logger) *Worker {
	seen, _ := lru.New[hash.H256, struct{}](seenCacheSize)
	return &Worker{
		network:    n,
		engine:     engine,
		multichain: mc,
		mempool:    mp,
		validator:  val,
		cfg:        cfg,
		logger:     logger,
		seen:       seen,
		limiter:    rate.NewLimiter(rate.Limit(2048), 4096),
	}
}

// Run processes messages until ctx is cancelled. Start it on its own
// goroutine; N workers may share the channel.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.network.Incoming():
			if !w.limiter.Allow() {
				w.logger.Warn("inbound rate limited, dropping message")
				continue
			}
			w.dispatch(msg)
		}
	}
}

func (w *Worker) dispatch(msg *Message) {
	switch msg.Type {
	case MsgPing:
		w.network.publishGlobal(&Message{Type: MsgPong, Nonce: msg.Nonce})
	case MsgPong:

	case MsgNewTransactionHash:
		w.handleNewTransactionHash(msg)
	case MsgGetTransactions:
		w.handleGetTransactions(msg)
	case MsgTransactions:
		w.handleTransactions(msg)

	case MsgNewTestimonyHash:
		w.handleNewTestimonyHash(msg)
	case MsgGetTestimonies:
		w.handleGetTestimonies(msg)
	case MsgTestimonies:
		w.handleTestimonies(msg)

	case MsgNewExBlockHash, MsgNewInBlockHash, MsgNewExFullBlockHash, MsgNewInFullBlockHash:
		w.handleNewBlockHash(msg)
	case MsgGetExBlocks, MsgGetInBlocks, MsgGetExFullBlocks, MsgGetInFullBlocks:
		w.handleGetBlocks(msg)
	case MsgExBlocks, MsgInBlocks, MsgExFullBlocks, MsgInFullBlocks:
		w.handleBlocks(msg)

	case MsgNewFraudProofHash:
		// Proof bodies travel directly; hashes only seed dedup.
	case MsgGetFraudProofs:
	case MsgFraudProofs:
		w.handleFraudProofs(msg)

	case MsgNewSamples:
	case MsgGetSamples:
		w.handleGetSamples(msg)
	case MsgSamples:
		w.handleSamples(msg)

	case MsgNewMissBlockHash:
		w.handleMissBlockHash(msg)

	default:
		w.logger.Debug("unhandled message", zap.Uint8("type", uint8(msg.Type)))
	}
}

func (w *Worker) handleNewTransactionHash(msg *Message) {
	if int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var missing []hash.H256
	for _, h := range msg.Hashes {
		if w.mempool.Has(h) {
			continue
		}
		if _, ok := w.multichain.TxInLongestChain(h); ok {
			continue
		}
		missing = append(missing, h)
	}
	if len(missing) > 0 {
		w.network.publishShard(w.cfg.ShardID, &Message{
			Type:    MsgGetTransactions,
			ShardID: msg.ShardID,
			Hashes:  missing,
		})
	}
}

func (w *Worker) handleGetTransactions(msg *Message) {
	if int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var found []types.Transaction
	for _, h := range msg.Hashes {
		if tx, ok := w.mempool.Get(h); ok {
			found = append(found, *tx)
			continue
		}
		if tx, ok := w.multichain.TxInLongestChain(h); ok {
			found = append(found, *tx)
		}
	}
	if len(found) > 0 {
		w.network.publishShard(w.cfg.ShardID, &Message{
			Type:         MsgTransactions,
			ShardID:      msg.ShardID,
			Transactions: found,
		})
	}
}

func (w *Worker) handleTransactions(msg *Message) {
	if int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var fresh []hash.H256
	for i := range msg.Transactions {
		tx := &msg.Transactions[i]
		txHash := tx.Hash()
		if w.mempool.Has(txHash) {
			continue
		}
		if proof := w.validator.ValidateTx(tx, nil, nil, validator.FromTransaction); proof != nil {
			continue
		}
		if w.mempool.Insert(tx) {
			fresh = append(fresh, txHash)
		}
	}
	metrics.MempoolSize.Set(float64(w.mempool.Len()))
	if len(fresh) > 0 {
		w.network.AnnounceTransactionHashes(w.cfg.ShardID, fresh)
	}
}

func (w *Worker) handleNewTestimonyHash(msg *Message) {
	if int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var missing []hash.H256
	for _, h := range msg.Hashes {
		if _, ok := w.mempool.Testimony(h); !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		w.network.publishShard(w.cfg.ShardID, &Message{
			Type:    MsgGetTestimonies,
			ShardID: msg.ShardID,
			Hashes:  missing,
		})
	}
}

func (w *Worker) handleGetTestimonies(msg *Message) {
	if int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var found []types.Testimony
	for _, h := range msg.Hashes {
		if tmy, ok := w.mempool.Testimony(h); ok {
			found = append(found, *tmy)
		}
	}
	if len(found) > 0 {
		w.network.publishShard(w.cfg.ShardID, &Message{
			Type:        MsgTestimonies,
			ShardID:     msg.ShardID,
			Testimonies: found,
		})
	}
}

func (w *Worker) handleTestimonies(msg *Message) {
	if int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var fresh []hash.H256
	for i := range msg.Testimonies {
		tmy := &msg.Testimonies[i]
		tmyHash := tmy.Hash()
		if _, seen := w.seen.Get(tmyHash); seen {
			continue
		}
		w.seen.Add(tmyHash, struct{}{})
		w.mempool.AddTestimony(tmy)
		fresh = append(fresh, tmyHash)
	}
	if len(fresh) > 0 {
		w.network.publishShard(w.cfg.ShardID, &Message{
			Type:    MsgNewTestimonyHash,
			ShardID: msg.ShardID,
			Hashes:  fresh,
		})
	}
}

func (w *Worker) handleNewBlockHash(msg *Message) {
	kind, ok := getTypeFor(msg.Type)
	if !ok {
		return
	}
	// Full-block bodies only matter for the node's own shard.
	if (msg.Type == MsgNewExFullBlockHash || msg.Type == MsgNewInFullBlockHash) && int(msg.ShardID) != w.cfg.ShardID {
		return
	}
	var missing []hash.H256
	for _, h := range msg.Hashes {
		if _, have := w.multichain.BlockOf(h, int(msg.ShardID)); !have {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		w.network.publishGlobal(&Message{
			Type:    kind,
			ShardID: msg.ShardID,
			Hashes:  missing,
		})
	}
}

func (w *Worker) handleGetBlocks(msg *Message) {
	var found []*block.Block
	for _, h := range msg.Hashes {
		blk, ok := w.multichain.BlockOf(h, int(msg.ShardID))
		if !ok {
			continue
		}
		if msg.Type == MsgGetExBlocks || msg.Type == MsgGetInBlocks {
			blk = blk.HeaderOnly()
		}
		found = append(found, blk)
	}
	if len(found) == 0 {
		return
	}
	reply := &Message{
		Type:    bodiesTypeFor(found[0].Kind),
		ShardID: msg.ShardID,
		Blocks:  found,
	}
	if reply.Type == MsgExFullBlocks || reply.Type == MsgInFullBlocks {
		w.network.publishShard(int(msg.ShardID), reply)
	} else {
		w.network.publishGlobal(reply)
	}
}

func (w *Worker) handleBlocks(msg *Message) {
	kind, ok := blockKindFor(msg.Type)
	if !ok {
		return
	}
	var accepted []hash.H256
	for _, blk := range msg.Blocks {
		if blk == nil || blk.Kind != kind {
			continue
		}
		// Full bodies are only accepted for the node's own shard; a
		// header-only inclusive block from our own shard is covered by its
		// full variant.
		if blk.Kind.IsFull() && int(blk.ShardID()) != w.cfg.ShardID {
			continue
		}
		if blk.Kind == block.KindInclusive && int(blk.ShardID()) == w.cfg.ShardID {
			continue
		}
		res := w.engine.Process(blk)
		if res.Accepted {
			accepted = append(accepted, blk.Hash())
		}
	}
	if len(accepted) > 0 {
		w.network.publishGlobal(&Message{
			Type:    newHashTypeFor(kind),
			ShardID: msg.ShardID,
			Hashes:  accepted,
		})
	}
}

func (w *Worker) handleFraudProofs(msg *Message) {
	for _, p := range msg.FraudProofs {
		if p == nil || p.IsUnsolved() {
			continue
		}
		pHash := p.Hash()
		if _, seen := w.seen.Get(pHash); seen {
			continue
		}
		w.seen.Add(pHash, struct{}{})
		if !w.engine.HandleFraudProof(p) {
			w.logger.Debug("fraud proof rejected", zap.String("kind", p.Kind.String()))
		}
	}
}

func (w *Worker) handleGetSamples(msg *Message) {
	var bundles []SampleBundle
	for _, idx := range msg.SampleIndexes {
		if int(idx.ShardID) != w.cfg.ShardID {
			continue
		}
		blk, ok := w.multichain.BlockOf(idx.BlockHash, w.cfg.ShardID)
		if !ok || !blk.Kind.IsFull() {
			continue
		}
		samples := blk.IntoSamples(int(idx.TxIndex))
		if samples != nil {
			bundles = append(bundles, SampleBundle{Index: idx, Samples: samples})
		}
	}
	if len(bundles) > 0 {
		w.network.publishGlobal(&Message{Type: MsgSamples, SampleBundles: bundles})
	}
}

func (w *Worker) handleSamples(msg *Message) {
	for _, bundle := range msg.SampleBundles {
		st, ok := w.multichain.StatusOf(bundle.Index.BlockHash, int(bundle.Index.ShardID))
		if !ok || st != chain.Unverified {
			continue
		}
		if !w.validator.VerifySamples(bundle.Index, bundle.Samples) {
			continue
		}
		if err := w.engine.MarkVerified(bundle.Index.BlockHash, int(bundle.Index.ShardID)); err != nil {
			w.logger.Debug("mark verified", zap.Error(err))
		}
	}
}

func (w *Worker) handleMissBlockHash(msg *Message) {
	shardID := int(msg.ShardID)
	for _, h := range msg.Hashes {
		blk, ok := w.multichain.BlockOf(h, shardID)
		if !ok {
			continue
		}
		header := blk.HeaderOnly()
		w.network.publishGlobal(&Message{
			Type:    bodiesTypeFor(header.Kind),
			ShardID: msg.ShardID,
			Blocks:  []*block.Block{header},
		})
		if blk.Kind.IsFull() {
			w.network.publishShard(shardID, &Message{
				Type:    bodiesTypeFor(blk.Kind),
				ShardID: msg.ShardID,
				Blocks:  []*block.Block{blk},
			})
		}
	}
}
