package testutil

import (
	"bytes"
	"crypto/ed25519"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// User is a deterministic test identity: address and key seed are both 32
// repetitions of one byte, so 0x02..02 lands on shard 0 and 0x03..03 on
// shard 1 when shardNum is 2.
type User struct {
	Addr hash.H256
	Pub  ed25519.PublicKey
	Priv ed25519.PrivateKey
}

// UserWithAddr builds the deterministic user for one address byte.
func UserWithAddr(b byte) *User {
	seed := bytes.Repeat([]byte{b}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	var addr hash.H256
	for i := range addr {
		addr[i] = b
	}
	return &User{Addr: addr, Pub: priv.Public().(ed25519.PublicKey), Priv: priv}
}

// Logger is a silent logger for tests.
func Logger() *zap.Logger {
	return zap.NewNop()
}

// Config returns a test configuration with the weakest PoW targets.
func Config(shardNum, shardID, blockSize, k int) *config.Config {
	cfg := config.Default()
	cfg.ShardNum = shardNum
	cfg.ShardID = shardID
	cfg.BlockSize = blockSize
	cfg.K = k
	return cfg
}

// InitialTx creates a bootstrap UTXO for a user. nonce keeps repeated
// grants to the same user hash-distinct.
func InitialTx(u *User, value uint32, nonce uint32) *types.Transaction {
	tx := types.NewInitialTx(u.Addr, u.Pub, value)
	tx.Inputs[0].Index = nonce
	return tx
}

// Utxo names one spendable output of a prior transaction.
type Utxo struct {
	Tx    *types.Transaction
	Index int
	Owner *User
}

// Grant is one output of a new transaction.
type Grant struct {
	To    *User
	Value uint32
}

// Consume builds a signed transaction spending the given UTXOs into the
// given grants under the given flag.
func Consume(flag types.TxFlag, utxos []Utxo, grants []Grant) *types.Transaction {
	tx := &types.Transaction{Flag: flag}
	for _, u := range utxos {
		tx.Inputs = append(tx.Inputs, types.UtxoInput{
			SenderAddr: u.Owner.Addr,
			SrcTxHash:  u.Tx.Hash(),
			Value:      u.Tx.Outputs[u.Index].Value,
			Index:      uint32(u.Index),
			Signature:  types.Sign(u.Tx, u.Owner.Priv),
		})
	}
	for _, g := range grants {
		tx.Outputs = append(tx.Outputs, types.UtxoOutput{
			ReceiverAddr: g.To.Addr,
			Value:        g.Value,
			PublicKey:    append([]byte(nil), g.To.Pub...),
		})
	}
	return tx
}

// ExclusiveFullBlock builds a full exclusive block on parent with the
// weakest difficulty, so its hash always satisfies the target.
func ExclusiveFullBlock(shardID int, parent hash.H256, ts int64, txs []types.Transaction, tmys []types.Testimony) *block.Block {
	txBlock := block.NewTxBlock(uint32(shardID), txs, tmys)
	cons := block.Consensus{
		Header: block.Header{
			Parent:       parent,
			Difficulty:   hash.Max,
			ShardID:      uint32(shardID),
			Timestamp:    ts,
			TxMerkleRoot: txBlock.TxMerkleRoot(),
		},
		TestimonyMerkleRoot:    txBlock.TestimonyMerkleRoot(),
		InterParentMerkleRoot:  block.InterParentRoot([]hash.H256{parent}),
		GlobalParentMerkleRoot: block.GlobalParentRoot(nil),
	}
	return block.NewExclusiveFull(cons, cons.Hash(), []hash.H256{parent}, txBlock)
}

// InclusiveFullBlock builds a full inclusive block committing to the given
// global-parent tuple; parent names the verified parent in the header.
func InclusiveFullBlock(shardID int, parent hash.H256, ts int64, txs []types.Transaction, tmys []types.Testimony, global []block.ShardParents) *block.Block {
	txBlock := block.NewTxBlock(uint32(shardID), txs, tmys)
	inter := []hash.H256{parent}
	cons := block.Consensus{
		Header: block.Header{
			Parent:       parent,
			Difficulty:   hash.Max,
			ShardID:      uint32(shardID),
			Timestamp:    ts,
			TxMerkleRoot: txBlock.TxMerkleRoot(),
		},
		TestimonyMerkleRoot:    txBlock.TestimonyMerkleRoot(),
		InterParentMerkleRoot:  block.InterParentRoot(inter),
		GlobalParentMerkleRoot: block.GlobalParentRoot(global),
	}
	return block.NewInclusiveFull(cons, cons.Hash(), inter, global, txBlock)
}

// EmptyBlocks builds n chained empty full blocks starting from parent,
// with ascending timestamps from ts.
func EmptyBlocks(shardID int, parent hash.H256, ts int64, n int) []*block.Block {
	var res []*block.Block
	for i := 0; i < n; i++ {
		b := ExclusiveFullBlock(shardID, parent, ts+int64(i), nil, nil)
		res = append(res, b)
		parent = b.Hash()
	}
	return res
}
