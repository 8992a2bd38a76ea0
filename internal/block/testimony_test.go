package block

import (
	"testing"

	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/pkg/merkle"
)

func addr(b byte) hash.H256 {
	var h hash.H256
	for i := range h {
		h[i] = b
	}
	return h
}

func TestGenerateTestimonyForInput(t *testing.T) {
	// Sender 0x03 on shard 1, receiver 0x02 on shard 0, shardNum 2.
	inputTx := types.Transaction{
		Inputs: []types.UtxoInput{{
			SenderAddr: addr(0x03),
			SrcTxHash:  hash.Sum([]byte("src")),
			Value:      5,
		}},
		Outputs: []types.UtxoOutput{{ReceiverAddr: addr(0x02), Value: 5}},
		Flag:    types.FlagInput,
	}
	blk := buildFull(1, Genesis(1).Hash(), []types.Transaction{inputTx})

	tmy, ok := GenerateTestimony(&inputTx, blk, 0, 1, 2, true)
	if !ok {
		t.Fatal("testimony generation failed")
	}
	if tmy.TxHash != inputTx.RelatedHash(types.FlagOutput) {
		t.Error("input testimony should be keyed by the Output twin's hash")
	}
	unit, found := tmy.Unit(inputTx.Inputs[0].Hash())
	if !found {
		t.Fatal("unit for the shard-1 input missing")
	}
	if unit.OriginBlockHash != blk.Hash() {
		t.Error("unit should point at the mined block")
	}
	if !merkle.Verify(blk.TxMerkleRoot(), inputTx.Hash(), unit.TxMerkleProof, int(unit.TxIndex), 1) {
		t.Error("unit proof should verify against the block root")
	}
}

func TestGenerateTestimonyForOutputDecidesFlag(t *testing.T) {
	outputTx := types.Transaction{
		Inputs: []types.UtxoInput{{
			SenderAddr: addr(0x03),
			SrcTxHash:  hash.Sum([]byte("src")),
			Value:      5,
		}},
		Outputs: []types.UtxoOutput{{ReceiverAddr: addr(0x02), Value: 5}},
		Flag:    types.FlagOutput,
	}
	blk := buildFull(0, Genesis(0).Hash(), []types.Transaction{outputTx})

	acceptTmy, ok := GenerateTestimony(&outputTx, blk, 0, 0, 2, true)
	if !ok {
		t.Fatal("accept testimony generation failed")
	}
	if acceptTmy.TxHash != outputTx.RelatedHash(types.FlagAccept) {
		t.Error("accept testimony should be keyed by the Accept twin")
	}
	rejectTmy, ok := GenerateTestimony(&outputTx, blk, 0, 0, 2, false)
	if !ok {
		t.Fatal("reject testimony generation failed")
	}
	if rejectTmy.TxHash != outputTx.RelatedHash(types.FlagReject) {
		t.Error("reject testimony should be keyed by the Reject twin")
	}
	if _, found := acceptTmy.Unit(outputTx.Outputs[0].Hash()); !found {
		t.Error("unit for the shard-0 output missing")
	}
}

func TestGenerateTestimonyWrongFlag(t *testing.T) {
	domestic := types.Transaction{Flag: types.FlagDomestic}
	blk := buildFull(0, Genesis(0).Hash(), []types.Transaction{domestic})
	if _, ok := GenerateTestimony(&domestic, blk, 0, 0, 2, true); ok {
		t.Error("domestic transactions carry no testimony")
	}
}
