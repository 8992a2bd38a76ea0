package types

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

func testKey(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

func addrOf(b byte) hash.H256 {
	var h hash.H256
	for i := range h {
		h[i] = b
	}
	return h
}

func sampleTx(flag TxFlag) *Transaction {
	return &Transaction{
		Inputs: []UtxoInput{{
			SenderAddr: addrOf(0x02),
			SrcTxHash:  hash.Sum([]byte("src")),
			Value:      10,
			Index:      0,
		}},
		Outputs: []UtxoOutput{{
			ReceiverAddr: addrOf(0x04),
			Value:        10,
			PublicKey:    testKey(0x04).Public().(ed25519.PublicKey),
		}},
		Flag: flag,
	}
}

func TestFlagChangesHash(t *testing.T) {
	input := sampleTx(FlagInput)
	output := sampleTx(FlagOutput)
	if input.Hash() == output.Hash() {
		t.Error("same payload under different flags must hash differently")
	}
	if input.RelatedHash(FlagOutput) != output.Hash() {
		t.Error("RelatedHash should produce the twin's hash")
	}
	if input.Flag != FlagInput {
		t.Error("RelatedHash must not mutate the receiver")
	}
}

func TestHashDeterminism(t *testing.T) {
	a := sampleTx(FlagDomestic)
	b := sampleTx(FlagDomestic)
	if a.Hash() != b.Hash() {
		t.Error("equal transactions should hash equally")
	}
	b.Outputs[0].Value = 11
	if a.Hash() == b.Hash() {
		t.Error("output value should be part of the preimage")
	}
}

func TestSignVerify(t *testing.T) {
	key := testKey(0x07)
	tx := sampleTx(FlagDomestic)
	sig := Sign(tx, key)
	pub := key.Public().(ed25519.PublicKey)
	if !VerifySignature(tx, pub, sig) {
		t.Error("signature should verify")
	}
	other := sampleTx(FlagInput)
	if VerifySignature(other, pub, sig) {
		t.Error("signature must not verify for a different transaction")
	}
	wrongKey := testKey(0x08).Public().(ed25519.PublicKey)
	if VerifySignature(tx, wrongKey, sig) {
		t.Error("signature must not verify under a different key")
	}
	if VerifySignature(tx, []byte("short"), sig) {
		t.Error("malformed public key should fail closed")
	}
}

func TestShardOfAddr(t *testing.T) {
	cases := []struct {
		addrByte byte
		shardNum int
		want     int
	}{
		{0x02, 2, 0},
		{0x03, 2, 1},
		{0x04, 2, 0},
		{0x05, 4, 1},
		{0xFF, 2, 1},
	}
	for _, c := range cases {
		got := ShardOfAddr(addrOf(c.addrByte), c.shardNum)
		if got != c.want {
			t.Errorf("ShardOfAddr(0x%02x.., %d) = %d, want %d", c.addrByte, c.shardNum, got, c.want)
		}
	}
}

func TestBelongsToShard(t *testing.T) {
	tx := sampleTx(FlagInput) // sender 0x02 (shard 0), receiver 0x04 (shard 0)
	if !tx.BelongsToShard(0, 2) {
		t.Error("tx should belong to shard 0")
	}
	if tx.BelongsToShard(1, 2) {
		t.Error("tx should not belong to shard 1")
	}
}

func TestInitialAndEmpty(t *testing.T) {
	key := testKey(0x02)
	init := NewInitialTx(addrOf(0x02), key.Public().(ed25519.PublicKey), 100)
	if init.Flag != FlagInitial || len(init.Outputs) != 1 || init.Outputs[0].Value != 100 {
		t.Error("unexpected initial tx shape")
	}
	empty := NewEmptyTx(3, 2)
	if empty.Flag != FlagEmpty || len(empty.Inputs) != 3 || len(empty.Outputs) != 2 {
		t.Error("unexpected empty tx shape")
	}
	if NewEmptyTx(3, 2).Hash() != empty.Hash() {
		t.Error("padding transactions should hash deterministically")
	}
}
