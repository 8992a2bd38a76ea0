package p2p

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/fraudproof"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

const (
	// ProtocolVersion is the wire protocol version baked into topic names.
	ProtocolVersion = "1.0.0"

	// maxMessageSize bounds a decoded gossip message.
	maxMessageSize = 8 << 20
)

// ShardTopicName is the gossip topic carrying one shard's full blocks,
// transactions, and testimonies.
func ShardTopicName(shardID int) string {
	return fmt.Sprintf("/manifoldchain/shard/%d/%s", shardID, ProtocolVersion)
}

// GlobalTopicName carries cross-shard traffic: header-only blocks, fraud
// proofs, data-availability samples, and missing-block announcements.
func GlobalTopicName() string {
	return "/manifoldchain/global/" + ProtocolVersion
}

// MessageType identifies a wire message. The triads follow the pull
// model: new-hash announcement, get, bodies.
type MessageType uint8

const (
	MsgPing MessageType = iota + 1
	MsgPong

	MsgNewTransactionHash
	MsgGetTransactions
	MsgTransactions

	MsgNewTestimonyHash
	MsgGetTestimonies
	MsgTestimonies

	MsgNewExBlockHash
	MsgGetExBlocks
	MsgExBlocks

	MsgNewInBlockHash
	MsgGetInBlocks
	MsgInBlocks

	MsgNewExFullBlockHash
	MsgGetExFullBlocks
	MsgExFullBlocks

	MsgNewInFullBlockHash
	MsgGetInFullBlocks
	MsgInFullBlocks

	MsgNewFraudProofHash
	MsgGetFraudProofs
	MsgFraudProofs

	MsgNewSamples
	MsgGetSamples
	MsgSamples

	MsgNewMissBlockHash
)

// SampleBundle answers one sample request.
type SampleBundle struct {
	Index   validator.SampleIndex `cbor:"1,keyasint"`
	Samples []block.Sample        `cbor:"2,keyasint"`
}

// Message is the single CBOR envelope. Only the fields a given type uses
// are populated.
type Message struct {
	Type    MessageType `cbor:"1,keyasint"`
	ShardID uint32      `cbor:"2,keyasint,omitempty"`

	Nonce         string                  `cbor:"3,keyasint,omitempty"`
	Hashes        []hash.H256             `cbor:"4,keyasint,omitempty"`
	Transactions  []types.Transaction     `cbor:"5,keyasint,omitempty"`
	Testimonies   []types.Testimony       `cbor:"6,keyasint,omitempty"`
	Blocks        []*block.Block          `cbor:"7,keyasint,omitempty"`
	FraudProofs   []*fraudproof.Proof     `cbor:"8,keyasint,omitempty"`
	SampleIndexes []validator.SampleIndex `cbor:"9,keyasint,omitempty"`
	SampleBundles []SampleBundle          `cbor:"10,keyasint,omitempty"`
}

// Encode serializes a message to CBOR.
func Encode(msg *Message) ([]byte, error) {
	return cbor.Marshal(msg)
}

// Decode parses a CBOR message, bounding its size.
func Decode(data []byte) (*Message, error) {
	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("p2p: message too large: %d bytes", len(data))
	}
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == 0 {
		return nil, fmt.Errorf("p2p: missing message type")
	}
	return &msg, nil
}

// blockKindFor maps a bodies message type to the block kind it carries.
func blockKindFor(t MessageType) (block.Kind, bool) {
	switch t {
	case MsgExBlocks:
		return block.KindExclusive, true
	case MsgInBlocks:
		return block.KindInclusive, true
	case MsgExFullBlocks:
		return block.KindExclusiveFull, true
	case MsgInFullBlocks:
		return block.KindInclusiveFull, true
	default:
		return 0, false
	}
}

// bodiesTypeFor maps a block kind to its bodies message type.
func bodiesTypeFor(k block.Kind) MessageType {
	switch k {
	case block.KindExclusive:
		return MsgExBlocks
	case block.KindInclusive:
		return MsgInBlocks
	case block.KindExclusiveFull:
		return MsgExFullBlocks
	default:
		return MsgInFullBlocks
	}
}

// newHashTypeFor maps a block kind to its announcement message type.
func newHashTypeFor(k block.Kind) MessageType {
	switch k {
	case block.KindExclusive:
		return MsgNewExBlockHash
	case block.KindInclusive:
		return MsgNewInBlockHash
	case block.KindExclusiveFull:
		return MsgNewExFullBlockHash
	default:
		return MsgNewInFullBlockHash
	}
}

// getTypeFor maps an announcement type to its request type.
func getTypeFor(t MessageType) (MessageType, bool) {
	switch t {
	case MsgNewExBlockHash:
		return MsgGetExBlocks, true
	case MsgNewInBlockHash:
		return MsgGetInBlocks, true
	case MsgNewExFullBlockHash:
		return MsgGetExFullBlocks, true
	case MsgNewInFullBlockHash:
		return MsgGetInFullBlocks, true
	default:
		return 0, false
	}
}
