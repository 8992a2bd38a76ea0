package types

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// TxFlag classifies a transaction's role in the cross-shard state machine.
type TxFlag uint8

const (
	// FlagInitial bootstraps a UTXO; not validated beyond format.
	FlagInitial TxFlag = iota
	// FlagDomestic is an intra-shard transfer.
	FlagDomestic
	// FlagInput locks UTXOs on the sender shard of a cross-shard transfer.
	FlagInput
	// FlagOutput mints UTXOs on the receiver shard, pending settlement.
	FlagOutput
	// FlagAccept settles an Output as spent.
	FlagAccept
	// FlagReject reverts an Output, re-creating the locked UTXOs.
	FlagReject
	// FlagEmpty pads a block when the mempool runs short.
	FlagEmpty
)

func (f TxFlag) String() string {
	switch f {
	case FlagInitial:
		return "initial"
	case FlagDomestic:
		return "domestic"
	case FlagInput:
		return "input"
	case FlagOutput:
		return "output"
	case FlagAccept:
		return "accept"
	case FlagReject:
		return "reject"
	case FlagEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// UtxoInput spends output Index of the transaction SrcTxHash. Signature is
// an ed25519 signature over the producing transaction's signing bytes.
type UtxoInput struct {
	SenderAddr hash.H256 `cbor:"1,keyasint"`
	SrcTxHash  hash.H256 `cbor:"2,keyasint"`
	Value      uint32    `cbor:"3,keyasint"`
	Index      uint32    `cbor:"4,keyasint"`
	Signature  []byte    `cbor:"5,keyasint"`
}

// UtxoOutput grants Value coins to ReceiverAddr, spendable with the key
// behind PublicKey.
type UtxoOutput struct {
	ReceiverAddr hash.H256 `cbor:"1,keyasint"`
	Value        uint32    `cbor:"2,keyasint"`
	PublicKey    []byte    `cbor:"3,keyasint"`
}

// Transaction is a UTXO transaction. The flag is part of the hash preimage:
// the same payload under a different flag hashes differently.
type Transaction struct {
	Inputs  []UtxoInput  `cbor:"1,keyasint"`
	Outputs []UtxoOutput `cbor:"2,keyasint"`
	Flag    TxFlag       `cbor:"3,keyasint"`
}

// Hash digests the input as multiHash(sender, SHA256(value||index||sig), srcTx).
func (in UtxoInput) Hash() hash.H256 {
	buf := make([]byte, 8, 8+len(in.Signature))
	binary.BigEndian.PutUint32(buf[0:4], in.Value)
	binary.BigEndian.PutUint32(buf[4:8], in.Index)
	buf = append(buf, in.Signature...)
	return hash.MultiHash([]hash.H256{in.SenderAddr, hash.Sum(buf), in.SrcTxHash})
}

// Hash digests the output as multiHash(receiver, SHA256(value||pubkey)).
func (out UtxoOutput) Hash() hash.H256 {
	buf := make([]byte, 4, 4+len(out.PublicKey))
	binary.BigEndian.PutUint32(buf[0:4], out.Value)
	buf = append(buf, out.PublicKey...)
	return hash.MultiHash([]hash.H256{out.ReceiverAddr, hash.Sum(buf)})
}

// Hash is the Merkle-style hash over input hashes, output hashes, and the
// hash of the flag string.
func (tx *Transaction) Hash() hash.H256 {
	hs := make([]hash.H256, 0, len(tx.Inputs)+len(tx.Outputs)+1)
	for _, in := range tx.Inputs {
		hs = append(hs, in.Hash())
	}
	for _, out := range tx.Outputs {
		hs = append(hs, out.Hash())
	}
	hs = append(hs, hash.Sum([]byte(tx.Flag.String())))
	return hash.MultiHash(hs)
}

// RelatedHash returns the hash this transaction would have under a
// different flag. The Input/Output/Accept/Reject quadruple of a cross-shard
// transfer shares a payload and is linked through these hashes.
func (tx *Transaction) RelatedHash(flag TxFlag) hash.H256 {
	clone := *tx
	clone.Flag = flag
	return clone.Hash()
}

// WithFlag returns a deep-enough copy carrying the given flag.
func (tx *Transaction) WithFlag(flag TxFlag) *Transaction {
	clone := &Transaction{
		Inputs:  append([]UtxoInput(nil), tx.Inputs...),
		Outputs: append([]UtxoOutput(nil), tx.Outputs...),
		Flag:    flag,
	}
	return clone
}

// SigningBytes is the canonical serialization signatures are computed over.
func (tx *Transaction) SigningBytes() []byte {
	b, err := cbor.Marshal(tx)
	if err != nil {
		// A transaction is a plain value type; encoding cannot fail.
		panic(err)
	}
	return b
}

// Sign signs the transaction with the given private key.
func Sign(tx *Transaction, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, tx.SigningBytes())
}

// VerifySignature checks sig over tx's signing bytes against pub.
func VerifySignature(tx *Transaction, pub, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), tx.SigningBytes(), sig)
}

// NewInitialTx creates a bootstrap UTXO of the given value for addr.
func NewInitialTx(addr hash.H256, pub ed25519.PublicKey, value uint32) *Transaction {
	return &Transaction{
		Inputs: []UtxoInput{{}},
		Outputs: []UtxoOutput{{
			ReceiverAddr: addr,
			Value:        value,
			PublicKey:    append([]byte(nil), pub...),
		}},
		Flag: FlagInitial,
	}
}

// NewEmptyTx creates a padding transaction with the given arity.
func NewEmptyTx(numInputs, numOutputs int) *Transaction {
	return &Transaction{
		Inputs:  make([]UtxoInput, numInputs),
		Outputs: make([]UtxoOutput, numOutputs),
		Flag:    FlagEmpty,
	}
}

// ShardOfAddr maps an address to its owning shard: the last
// ceil(log256(shardNum)) bytes interpreted big-endian, modulo shardNum.
func ShardOfAddr(addr hash.H256, shardNum int) int {
	if shardNum <= 0 {
		return 0
	}
	byteSize := 1
	for n := 256; n < shardNum; n *= 256 {
		byteSize++
	}
	value := 0
	for i := 32 - byteSize; i < 32; i++ {
		value = value*256 + int(addr[i])
	}
	return value % shardNum
}

// BelongsToShard reports whether any input's sender or output's receiver
// maps to the given shard.
func (tx *Transaction) BelongsToShard(shardID, shardNum int) bool {
	for _, in := range tx.Inputs {
		if ShardOfAddr(in.SenderAddr, shardNum) == shardID {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if ShardOfAddr(out.ReceiverAddr, shardNum) == shardID {
			return true
		}
	}
	return false
}
