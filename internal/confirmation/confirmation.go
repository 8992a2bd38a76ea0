package confirmation

import (
	"sync"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// BlockLocate names a block in a specific shard.
type BlockLocate struct {
	BlockHash hash.H256
	ShardID   int
}

// TxLocate names a transaction inside a specific block.
type TxLocate struct {
	BlockHash hash.H256
	TxHash    hash.H256
}

// Reply is a settlement transaction the engine synthesized, with the
// testimony proving its Output block and the shards it must reach.
type Reply struct {
	Tx        *types.Transaction
	Testimony *types.Testimony
	Shards    []int
}

// Confirmation tracks cross-shard progress and decides when a pending
// Output settles to Accept or Reject. Confirmation is monotonic: progress
// per shard never decreases and a confirmed block stays confirmed until
// pruned.
type Confirmation struct {
	mu sync.Mutex

	multichain *multichain.Multichain
	cfg        *config.Config
	logger     *zap.Logger

	// progress[s] is the greatest confirmed height observed in shard s.
	progress []int

	confirmedBlocks map[BlockLocate]bool

	// unstableOutputs maps a pending Output inclusion to the originator
	// blocks that must confirm before it settles; inputBlockToOutput is
	// the reverse index.
	unstableOutputs    map[TxLocate][]BlockLocate
	inputBlockToOutput map[BlockLocate][]TxLocate

	// preConfirmed holds every transaction in a confirmed block;
	// finalConfirmed additionally requires settled originators for the
	// cross-shard flags.
	preConfirmed   map[hash.H256]bool
	finalConfirmed map[hash.H256]bool
}

// New creates an idle engine with zero progress everywhere.
func New(mc *multichain.Multichain, cfg *config.Config, logger *zap.Logger) *Confirmation {
	return &Confirmation{
		multichain:         mc,
		cfg:                cfg,
		logger:             logger,
		progress:           make([]int, cfg.ShardNum),
		confirmedBlocks:    make(map[BlockLocate]bool),
		unstableOutputs:    make(map[TxLocate][]BlockLocate),
		inputBlockToOutput: make(map[BlockLocate][]TxLocate),
		preConfirmed:       make(map[hash.H256]bool),
		finalConfirmed:     make(map[hash.H256]bool),
	}
}

// Update feeds the engine one chain event: a freshly inserted block, a
// newly confirmed block at its height, or both. shardID is the shard the
// block was inserted into (for inclusive blocks this differs from the
// originating shard in the header). Returned replies carry the settlement
// transactions to gossip.
func (c *Confirmation) Update(newBlock *block.Block, confirmed *block.Block, confirmedHeight int, shardID int) []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	var replies []Reply
	if confirmed != nil {
		replies = append(replies, c.handleConfirmedBlock(confirmed, confirmedHeight, shardID)...)
	}
	if newBlock != nil {
		replies = append(replies, c.handleNewBlock(newBlock)...)
	}
	return replies
}

// Progress returns the confirmed-height watermark of a shard.
func (c *Confirmation) Progress(shardID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[shardID]
}

// IsPreConfirmed reports inclusion in a confirmed block.
func (c *Confirmation) IsPreConfirmed(txHash hash.H256) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preConfirmed[txHash]
}

// IsFinalConfirmed reports full settlement.
func (c *Confirmation) IsFinalConfirmed(txHash hash.H256) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalConfirmed[txHash]
}

// PendingOutputs lists the Output inclusions still waiting on originator
// blocks.
func (c *Confirmation) PendingOutputs() map[TxLocate][]BlockLocate {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make(map[TxLocate][]BlockLocate, len(c.unstableOutputs))
	for k, v := range c.unstableOutputs {
		res[k] = append([]BlockLocate(nil), v...)
	}
	return res
}

func (c *Confirmation) handleConfirmedBlock(blk *block.Block, height, shardID int) []Reply {
	locate := BlockLocate{BlockHash: blk.Hash(), ShardID: shardID}
	if c.confirmedBlocks[locate] {
		return nil
	}
	c.confirmedBlocks[locate] = true
	if height > c.progress[shardID] {
		c.progress[shardID] = height
	}
	if txs, err := blk.Txs(); err == nil {
		tmys := blk.Testimonies()
		for i := range txs {
			c.confirmTx(&txs[i], tmys[txs[i].Hash()])
		}
	}

	var replies []Reply
	waiting := append([]TxLocate(nil), c.inputBlockToOutput[locate]...)
	for _, item := range waiting {
		required, ok := c.unstableOutputs[item]
		if !ok {
			continue
		}
		allSettled, allConfirmed := c.settlement(required)
		if !allSettled {
			continue
		}
		shards := shardSet(required)
		if reply := c.buildReply(item, allConfirmed); reply != nil {
			reply.Shards = shards
			replies = append(replies, *reply)
		}
	}
	return replies
}

func (c *Confirmation) handleNewBlock(blk *block.Block) []Reply {
	txs, err := blk.Txs()
	if err != nil {
		return nil
	}
	tmys := blk.Testimonies()
	blkHash := blk.Hash()
	var replies []Reply
	for i := range txs {
		tx := &txs[i]
		if tx.Flag != types.FlagOutput {
			continue
		}
		txHash := tx.Hash()
		tmy := tmys[txHash]
		if tmy == nil {
			continue
		}
		requiredSet := make(map[BlockLocate]bool)
		for j := range tx.Inputs {
			unit, ok := tmy.Unit(tx.Inputs[j].Hash())
			if !ok {
				continue
			}
			oriShard := types.ShardOfAddr(tx.Inputs[j].SenderAddr, c.cfg.ShardNum)
			requiredSet[BlockLocate{BlockHash: unit.OriginBlockHash, ShardID: oriShard}] = true
		}
		required := make([]BlockLocate, 0, len(requiredSet))
		for loc := range requiredSet {
			required = append(required, loc)
		}

		item := TxLocate{BlockHash: blkHash, TxHash: txHash}
		c.unstableOutputs[item] = required
		for _, loc := range required {
			c.inputBlockToOutput[loc] = append(c.inputBlockToOutput[loc], item)
		}

		allSettled, allConfirmed := c.settlement(required)
		if !allSettled {
			continue
		}
		if reply := c.buildReply(item, allConfirmed); reply != nil {
			reply.Shards = shardSet(required)
			replies = append(replies, *reply)
		}
	}
	return replies
}

// settlement classifies the required originator blocks. allSettled means
// every block is either confirmed or progress-overtaken (its shard's
// confirmed watermark passed its height on another branch); allConfirmed
// means no overtaken block, which decides Accept.
func (c *Confirmation) settlement(required []BlockLocate) (allSettled, allConfirmed bool) {
	allSettled, allConfirmed = true, true
	for _, loc := range required {
		if c.confirmedBlocks[loc] {
			continue
		}
		height, known := c.multichain.BlockHeightOf(loc.BlockHash, loc.ShardID)
		if known && c.progress[loc.ShardID] >= height {
			allConfirmed = false
			continue
		}
		allSettled = false
		return
	}
	return
}

// confirmTx promotes one transaction of a confirmed block. Intra-shard
// flags settle immediately; Output and Accept/Reject wait for every
// originator block named by the testimony.
func (c *Confirmation) confirmTx(tx *types.Transaction, tmy *types.Testimony) {
	txHash := tx.Hash()
	c.preConfirmed[txHash] = true
	switch tx.Flag {
	case types.FlagEmpty, types.FlagInitial, types.FlagDomestic, types.FlagInput:
		c.finalConfirmed[txHash] = true
	case types.FlagOutput:
		if tmy == nil {
			return
		}
		for i := range tx.Inputs {
			unit, ok := tmy.Unit(tx.Inputs[i].Hash())
			if !ok {
				return
			}
			oriShard := types.ShardOfAddr(tx.Inputs[i].SenderAddr, c.cfg.ShardNum)
			if !c.confirmedBlocks[BlockLocate{BlockHash: unit.OriginBlockHash, ShardID: oriShard}] {
				return
			}
		}
		c.finalConfirmed[txHash] = true
	case types.FlagAccept, types.FlagReject:
		if tmy == nil {
			return
		}
		for i := range tx.Outputs {
			unit, ok := tmy.Unit(tx.Outputs[i].Hash())
			if !ok {
				return
			}
			oriShard := types.ShardOfAddr(tx.Outputs[i].ReceiverAddr, c.cfg.ShardNum)
			if !c.confirmedBlocks[BlockLocate{BlockHash: unit.OriginBlockHash, ShardID: oriShard}] {
				return
			}
		}
		c.finalConfirmed[txHash] = true
	}
}

// buildReply settles one pending Output: deregisters it, locates the
// Output transaction in its block, and synthesizes the Accept or Reject
// twin with a testimony proving the Output block.
func (c *Confirmation) buildReply(item TxLocate, accept bool) *Reply {
	required := c.unstableOutputs[item]
	delete(c.unstableOutputs, item)
	for _, loc := range required {
		kept := c.inputBlockToOutput[loc][:0]
		for _, t := range c.inputBlockToOutput[loc] {
			if t != item {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(c.inputBlockToOutput, loc)
		} else {
			c.inputBlockToOutput[loc] = kept
		}
	}

	blk, ok := c.multichain.Block(item.BlockHash)
	if !ok {
		return nil
	}
	txs, err := blk.Txs()
	if err != nil {
		return nil
	}
	index := -1
	for i := range txs {
		if txs[i].Hash() == item.TxHash {
			index = i
			break
		}
	}
	if index == -1 {
		return nil
	}
	outputTx := &txs[index]

	tmy, ok := block.GenerateTestimony(outputTx, blk, index, c.cfg.ShardID, c.cfg.ShardNum, accept)
	if !ok {
		return nil
	}
	flag := types.FlagReject
	if accept {
		flag = types.FlagAccept
	}
	reply := outputTx.WithFlag(flag)
	c.logger.Info("settled cross-shard output",
		zap.Stringer("output_tx", item.TxHash),
		zap.Stringer("block", item.BlockHash),
		zap.Bool("accept", accept),
	)
	return &Reply{Tx: reply, Testimony: tmy}
}

func shardSet(locs []BlockLocate) []int {
	seen := make(map[int]bool, len(locs))
	var res []int
	for _, loc := range locs {
		if !seen[loc.ShardID] {
			seen[loc.ShardID] = true
			res = append(res, loc.ShardID)
		}
	}
	return res
}
