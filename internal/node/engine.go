package node

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/confirmation"
	"github.com/manifoldchain/manifoldchain/internal/fraudproof"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/metrics"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Publisher is the outbound side of the peer layer. Cross-component
// effects (confirmation replies, fraud proofs, sample requests) leave the
// engine through this handle; no component lock is ever held across a
// publish.
type Publisher interface {
	AnnounceBlock(blk *block.Block)
	PublishTransactions(shardID int, txs []*types.Transaction)
	PublishTestimonies(shardID int, tmys []*types.Testimony)
	PublishFraudProof(p *fraudproof.Proof)
	AnnounceMissingBlocks(shardID int, hashes []hash.H256)
	RequestSamples(reqs []validator.SampleIndex)
}

// NopPublisher drops everything; used when running without a peer layer.
type NopPublisher struct{}

func (NopPublisher) AnnounceBlock(*block.Block)                             {}
func (NopPublisher) PublishTransactions(int, []*types.Transaction)          {}
func (NopPublisher) PublishTestimonies(int, []*types.Testimony)             {}
func (NopPublisher) PublishFraudProof(*fraudproof.Proof)                    {}
func (NopPublisher) AnnounceMissingBlocks(int, []hash.H256)                 {}
func (NopPublisher) RequestSamples([]validator.SampleIndex)                 {}

// Engine is the single insertion path for blocks, mined or received. It
// validates, inserts under every cited parent, drives the confirmation
// engine, buffers orphans, and fans settlement replies back out.
type Engine struct {
	mu sync.Mutex

	multichain   *multichain.Multichain
	mempool      *mempool.Mempool
	validator    *validator.Validator
	confirmation *confirmation.Confirmation
	cfg          *config.Config
	logger       *zap.Logger
	publisher    Publisher

	// orphans buffers blocks whose parents have not arrived, keyed by the
	// missing parent hash.
	orphans map[hash.H256][]*block.Block
}

// Result summarizes one block's processing.
type Result struct {
	// Accepted: at least one (parent, block) edge was inserted somewhere.
	Accepted bool
	// MissingParents: shard -> parent hashes nobody has; gossiped as
	// NewMissBlockHash.
	MissingParents map[int][]hash.H256
	// Proof is set when validation failed with gossipable evidence.
	Proof *fraudproof.Proof
}

// NewEngine wires the insertion pipeline.
func NewEngine(
	mc *multichain.Multichain,
	mp *mempool.Mempool,
	val *validator.Validator,
	conf *confirmation.Confirmation,
	cfg *config.Config,
	pub Publisher,
	logger *zap.Logger,
) *Engine {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Engine{
		multichain:   mc,
		mempool:      mp,
		validator:    val,
		confirmation: conf,
		cfg:          cfg,
		logger:       logger,
		publisher:    pub,
		orphans:      make(map[hash.H256][]*block.Block),
	}
}

// target is one (shard, variant) insertion of a block.
type target struct {
	shardID int
	variant *block.Block
}

// targets expands a block into its per-shard insertions. An inclusive
// block lands in every shard its global parents cite: the full variant in
// the node's own shard (when it is the origin), the header-only variant
// elsewhere. A header-only inclusive block originated in our own shard is
// ignored; the full variant covers it.
func (e *Engine) targets(blk *block.Block) []target {
	own := e.cfg.ShardID
	if !blk.Kind.IsInclusive() {
		return []target{{shardID: int(blk.ShardID()), variant: blk}}
	}
	if blk.Kind == block.KindInclusive && int(blk.ShardID()) == own {
		return nil
	}
	var res []target
	header := blk.HeaderOnly()
	for _, sp := range blk.GlobalParents {
		shard := int(sp.ShardID)
		variant := header
		if blk.Kind == block.KindInclusiveFull && shard == own {
			variant = blk
		}
		res = append(res, target{shardID: shard, variant: variant})
	}
	return res
}

// Process runs one block (and any orphans it unblocks) through validation
// and insertion.
func (e *Engine) Process(blk *block.Block) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.processLocked(blk)
	if res.Accepted {
		e.drainOrphans(blk.Hash())
	}
	if res.Proof != nil && !res.Proof.IsUnsolved() {
		metrics.FraudProofs.WithLabelValues(res.Proof.Kind.String()).Inc()
		e.publisher.PublishFraudProof(res.Proof)
	}
	for shard, missing := range res.MissingParents {
		e.publisher.AnnounceMissingBlocks(shard, missing)
	}
	return res
}

func (e *Engine) processLocked(blk *block.Block) Result {
	res := Result{MissingParents: make(map[int][]hash.H256)}
	if !blk.VerifyFormat() {
		e.logger.Warn("block fails format check", zap.Stringer("block", blk.Hash()))
		return res
	}
	for _, t := range e.targets(blk) {
		inserted := e.insertIntoShard(t.variant, t.shardID, &res)
		if res.Proof != nil && !res.Proof.IsUnsolved() {
			// A provably invalid block is dropped everywhere.
			return res
		}
		res.Accepted = res.Accepted || inserted
	}
	return res
}

// insertIntoShard tries every legal parent of blk in one shard. Full
// blocks for the node's own shard are validated against each parent's
// state before insertion.
func (e *Engine) insertIntoShard(blk *block.Block, shardID int, res *Result) bool {
	parents := blk.ParentsInShard(uint32(shardID))
	if len(parents) == 0 {
		return false
	}
	inserted := false
	var missing []hash.H256
	for _, parent := range parents {
		if _, ok := e.multichain.BlockOf(parent, shardID); !ok {
			missing = append(missing, parent)
			continue
		}
		if blk.Kind.IsFull() && shardID == e.cfg.ShardID {
			if proof := e.validator.ValidateBlock(blk, parent); proof != nil {
				if proof.IsUnsolved() {
					e.logger.Debug("block validation unsolved",
						zap.Stringer("block", blk.Hash()),
						zap.Stringer("parent", parent),
					)
					continue
				}
				e.logger.Warn("invalid block",
					zap.Stringer("block", blk.Hash()),
					zap.String("fault", proof.Kind.String()),
				)
				res.Proof = proof
				return inserted
			}
		}
		ev, err := e.multichain.InsertBlock(blk, parent, shardID)
		switch {
		case err == nil:
			inserted = true
			metrics.BlocksInserted.WithLabelValues("ok").Inc()
			e.afterInsert(blk, ev, shardID)
		case errors.Is(err, chain.ErrAlreadyPresent):
			metrics.BlocksInserted.WithLabelValues("duplicate").Inc()
		case errors.Is(err, chain.ErrUnknownParent):
			missing = append(missing, parent)
		default:
			metrics.BlocksInserted.WithLabelValues("rejected").Inc()
			e.logger.Debug("insert rejected", zap.Error(err), zap.Stringer("block", blk.Hash()))
		}
	}
	if !inserted && len(missing) > 0 {
		res.MissingParents[shardID] = append(res.MissingParents[shardID], missing...)
		e.addOrphan(blk, missing)
	}
	return inserted
}

// afterInsert feeds the confirmation engine and fans out any settlement
// replies it produced.
func (e *Engine) afterInsert(blk *block.Block, ev *chain.ConfirmEvent, shardID int) {
	var confirmed *block.Block
	confirmedHeight := 0
	if ev != nil {
		confirmed = ev.Block
		confirmedHeight = ev.Height
		metrics.ConfirmedBlocks.Inc()
	}
	replies := e.confirmation.Update(blk, confirmed, confirmedHeight, shardID)
	e.dispatchReplies(replies)
	if shardID == e.cfg.ShardID {
		metrics.ChainHeight.Set(float64(e.multichain.Height()))
		metrics.VerifiedHeight.Set(float64(e.multichain.VerifiedHeight()))
	}
}

func (e *Engine) dispatchReplies(replies []confirmation.Reply) {
	for _, r := range replies {
		decision := "reject"
		if r.Tx.Flag == types.FlagAccept {
			decision = "accept"
		}
		metrics.SettledOutputs.WithLabelValues(decision).Inc()
		for _, shard := range r.Shards {
			e.publisher.PublishTransactions(shard, []*types.Transaction{r.Tx})
			e.publisher.PublishTestimonies(shard, []*types.Testimony{r.Testimony})
			if shard == e.cfg.ShardID {
				e.mempool.AddTestimony(r.Testimony)
				e.mempool.Insert(r.Tx)
			}
		}
	}
}

func (e *Engine) addOrphan(blk *block.Block, missing []hash.H256) {
	blkHash := blk.Hash()
	for _, parent := range missing {
		dup := false
		for _, o := range e.orphans[parent] {
			if o.Hash() == blkHash {
				dup = true
				break
			}
		}
		if !dup {
			e.orphans[parent] = append(e.orphans[parent], blk)
		}
	}
}

// drainOrphans re-processes, in arrival order, every buffered block that
// waited on the newly inserted one.
func (e *Engine) drainOrphans(parent hash.H256) {
	children := e.orphans[parent]
	if len(children) == 0 {
		return
	}
	delete(e.orphans, parent)
	for _, child := range children {
		res := e.processLocked(child)
		if res.Accepted {
			e.publisher.AnnounceBlock(child)
			e.drainOrphans(child.Hash())
		}
	}
}

// ProcessMined runs a locally mined block through the same path network
// blocks take, reporting only acceptance.
func (e *Engine) ProcessMined(blk *block.Block) bool {
	return e.Process(blk).Accepted
}

// MarkVerified records a sample-verified foreign block and runs the
// confirmation consequences.
func (e *Engine) MarkVerified(h hash.H256, shardID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev, err := e.multichain.MarkVerified(h, shardID)
	if err != nil {
		return err
	}
	metrics.SamplesVerified.Inc()
	if ev != nil {
		metrics.ConfirmedBlocks.Inc()
		replies := e.confirmation.Update(nil, ev.Block, ev.Height, shardID)
		e.dispatchReplies(replies)
	}
	return nil
}

// HandleFraudProof verifies a received proof; a sound one prunes the
// accused subtree and is re-gossiped.
func (e *Engine) HandleFraudProof(p *fraudproof.Proof) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.validator.VerifyFraudProof(p) {
		return false
	}
	metrics.FraudProofs.WithLabelValues(p.Kind.String()).Inc()
	e.multichain.PruneFork(p.InvalidBlockHash, int(p.ShardID))
	e.publisher.PublishFraudProof(p)
	return true
}
