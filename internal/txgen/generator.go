package txgen

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	mrand "math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// User is one keypair the generator controls. The address is the hash of
// the public key with its trailing bytes forced onto the user's home
// shard, so generated traffic lands where intended.
type User struct {
	Addr    hash.H256
	Pub     ed25519.PublicKey
	Priv    ed25519.PrivateKey
	ShardID int
}

// NewUser creates a keypair homed on the given shard.
func NewUser(shardID, shardNum int) (*User, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	addr := hash.Sum(pub)
	// Pin the address to its home shard by rewriting the bytes the shard
	// mapping reads.
	byteSize := 1
	for n := 256; n < shardNum; n *= 256 {
		byteSize++
	}
	for i := 32 - byteSize; i < 32; i++ {
		addr[i] = 0
	}
	addr[31] = byte(shardID)
	return &User{Addr: addr, Pub: pub, Priv: priv, ShardID: shardID}, nil
}

// spendable tracks one UTXO the generator may spend.
type spendable struct {
	tx    *types.Transaction
	index int
	owner *User
}

// Generator is the workload source: it seeds Initial UTXOs, then emits
// Domestic transfers and cross-shard Input transactions at the configured
// ratio, feeding them through stateless validation into the mempool.
type Generator struct {
	cfg       *config.Config
	mempool   *mempool.Mempool
	validator *validator.Validator
	mc        *multichain.Multichain
	logger    *zap.Logger
	rng       *mrand.Rand

	localUsers  []*User
	remoteUsers []*User
	utxos       []spendable
}

// New creates a generator with UserSize local users and one remote user
// per foreign shard.
func New(cfg *config.Config, mp *mempool.Mempool, val *validator.Validator, mc *multichain.Multichain, logger *zap.Logger) (*Generator, error) {
	g := &Generator{
		cfg:       cfg,
		mempool:   mp,
		validator: val,
		mc:        mc,
		logger:    logger,
		rng:       mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
	for i := 0; i < cfg.UserSize; i++ {
		u, err := NewUser(cfg.ShardID, cfg.ShardNum)
		if err != nil {
			return nil, err
		}
		g.localUsers = append(g.localUsers, u)
	}
	for s := 0; s < cfg.ShardNum; s++ {
		if s == cfg.ShardID {
			continue
		}
		u, err := NewUser(s, cfg.ShardNum)
		if err != nil {
			return nil, err
		}
		g.remoteUsers = append(g.remoteUsers, u)
	}
	return g, nil
}

// SeedInitial enqueues the bootstrap UTXOs: initialUtxoNum Initial
// transactions of initialBalance per local user.
func (g *Generator) SeedInitial() {
	for _, u := range g.localUsers {
		for i := 0; i < g.cfg.InitialUtxoNum; i++ {
			tx := types.NewInitialTx(u.Addr, u.Pub, uint32(g.cfg.InitialBalance))
			// Distinct nonce input so repeated seeds hash apart.
			tx.Inputs[0].Index = uint32(i)
			g.mempool.Insert(tx)
			g.utxos = append(g.utxos, spendable{tx: tx, index: 0, owner: u})
		}
	}
	g.logger.Info("seeded initial utxos",
		zap.Int("users", len(g.localUsers)),
		zap.Int("per_user", g.cfg.InitialUtxoNum),
	)
}

// Run emits transactions at the given interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Emit()
		}
	}
}

// Emit produces one transaction: Domestic with probability
// domesticTxRatio, cross-shard Input otherwise (when other shards exist).
func (g *Generator) Emit() {
	if len(g.utxos) == 0 {
		return
	}
	domestic := g.rng.Float64() < g.cfg.DomesticTxRatio || len(g.remoteUsers) == 0
	pick := g.rng.Intn(len(g.utxos))
	utxo := g.utxos[pick]
	g.utxos = append(g.utxos[:pick], g.utxos[pick+1:]...)

	var tx *types.Transaction
	if domestic {
		tx = g.domesticTx(utxo)
	} else {
		tx = g.inputTx(utxo)
	}
	if tx == nil {
		return
	}
	if proof := g.validator.ValidateTx(tx, nil, nil, validator.FromTransaction); proof != nil {
		g.logger.Debug("generated tx rejected", zap.String("flag", tx.Flag.String()))
		return
	}
	g.mempool.Insert(tx)
}

// domesticTx moves a UTXO between two local users, splitting the value.
func (g *Generator) domesticTx(utxo spendable) *types.Transaction {
	value := utxo.tx.Outputs[utxo.index].Value
	if value == 0 {
		return nil
	}
	receiver := g.localUsers[g.rng.Intn(len(g.localUsers))]
	in := types.UtxoInput{
		SenderAddr: utxo.owner.Addr,
		SrcTxHash:  utxo.tx.Hash(),
		Value:      value,
		Index:      uint32(utxo.index),
		Signature:  types.Sign(utxo.tx, utxo.owner.Priv),
	}
	half := value / 2
	outs := []types.UtxoOutput{{
		ReceiverAddr: receiver.Addr,
		Value:        value - half,
		PublicKey:    append([]byte(nil), receiver.Pub...),
	}}
	if half > 0 {
		outs = append(outs, types.UtxoOutput{
			ReceiverAddr: utxo.owner.Addr,
			Value:        half,
			PublicKey:    append([]byte(nil), utxo.owner.Pub...),
		})
	}
	tx := &types.Transaction{Inputs: []types.UtxoInput{in}, Outputs: outs, Flag: types.FlagDomestic}
	for i := range outs {
		ownerFor := utxo.owner
		if i == 0 {
			ownerFor = receiver
		}
		g.utxos = append(g.utxos, spendable{tx: tx, index: i, owner: ownerFor})
	}
	return tx
}

// inputTx locks a UTXO for a cross-shard transfer to a random remote user.
func (g *Generator) inputTx(utxo spendable) *types.Transaction {
	value := utxo.tx.Outputs[utxo.index].Value
	if value == 0 {
		return nil
	}
	receiver := g.remoteUsers[g.rng.Intn(len(g.remoteUsers))]
	in := types.UtxoInput{
		SenderAddr: utxo.owner.Addr,
		SrcTxHash:  utxo.tx.Hash(),
		Value:      value,
		Index:      uint32(utxo.index),
		Signature:  types.Sign(utxo.tx, utxo.owner.Priv),
	}
	out := types.UtxoOutput{
		ReceiverAddr: receiver.Addr,
		Value:        value,
		PublicKey:    append([]byte(nil), receiver.Pub...),
	}
	return &types.Transaction{Inputs: []types.UtxoInput{in}, Outputs: []types.UtxoOutput{out}, Flag: types.FlagInput}
}
