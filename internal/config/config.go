package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Config carries every tunable of a node. Difficulty and Threshold are PoW
// targets: a hash at or below Difficulty mines a block, a hash also at or
// below Threshold upgrades it to an inclusive block.
type Config struct {
	Difficulty hash.H256 `yaml:"-"`
	Threshold  hash.H256 `yaml:"-"`

	// Hex forms of the two targets for config files.
	DifficultyHex string `yaml:"difficulty"`
	ThresholdHex  string `yaml:"threshold"`

	BlockSize int `yaml:"block_size"`
	K         int `yaml:"k"`

	ShardNum int `yaml:"shard_num"`
	ShardID  int `yaml:"shard_id"`
	NodeID   int `yaml:"node_id"`

	InitialBalance int `yaml:"initial_balance"`
	InitialUtxoNum int `yaml:"initial_utxo_num"`

	UserSize        int     `yaml:"user_size"`
	NumTxReceivers  int     `yaml:"num_tx_receivers"`
	DomesticTxRatio float64 `yaml:"domestic_tx_ratio"`

	// TxMerkleProofLen is the proof length data-availability samples must
	// cover; a function of BlockSize.
	TxMerkleProofLen int `yaml:"tx_merkle_proof_len"`

	// NetworkDelayMs adds artificial latency to outbound gossip for
	// experiments.
	NetworkDelayMs int `yaml:"network_delay_ms"`

	// LambdaMicros is the miner's sleep between PoW attempts.
	LambdaMicros int `yaml:"lambda_micros"`

	DataDir    string   `yaml:"data_dir"`
	ListenPort int      `yaml:"listen_port"`
	APIAddr    string   `yaml:"api_addr"`
	Bootnodes  []string `yaml:"bootnodes"`
}

// Default returns the configuration with every knob at its documented
// default. Both targets default to the weakest possible, so any hash mines.
func Default() *Config {
	return &Config{
		Difficulty:      hash.Max,
		Threshold:       hash.Max,
		BlockSize:       2048,
		K:               6,
		ShardNum:        1,
		ShardID:         0,
		InitialBalance:  1000,
		InitialUtxoNum:  3,
		UserSize:        3,
		NumTxReceivers:  3,
		DomesticTxRatio: 0.7,
		TxMerkleProofLen: 1,
		LambdaMicros:    1000,
		DataDir:         "data",
		ListenPort:      9000,
		APIAddr:         "127.0.0.1:8545",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.resolveTargets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveTargets() error {
	if c.DifficultyHex != "" {
		h, err := hash.FromHex(c.DifficultyHex)
		if err != nil {
			return fmt.Errorf("config: difficulty: %w", err)
		}
		c.Difficulty = h
	}
	if c.ThresholdHex != "" {
		h, err := hash.FromHex(c.ThresholdHex)
		if err != nil {
			return fmt.Errorf("config: threshold: %w", err)
		}
		c.Threshold = h
	}
	return nil
}

// Validate rejects configurations no node can run with.
func (c *Config) Validate() error {
	if c.ShardNum < 1 {
		return fmt.Errorf("config: shard_num must be >= 1, got %d", c.ShardNum)
	}
	if c.ShardID < 0 || c.ShardID >= c.ShardNum {
		return fmt.Errorf("config: shard_id %d out of range [0, %d)", c.ShardID, c.ShardNum)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("config: block_size must be >= 1, got %d", c.BlockSize)
	}
	if c.K < 0 {
		return fmt.Errorf("config: k must be >= 0, got %d", c.K)
	}
	if c.Threshold.Cmp(c.Difficulty) > 0 {
		return fmt.Errorf("config: threshold must not exceed difficulty")
	}
	return nil
}
