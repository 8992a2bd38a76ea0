package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.BlockSize != 2048 {
		t.Errorf("block_size = %d, want 2048", cfg.BlockSize)
	}
	if cfg.K != 6 {
		t.Errorf("k = %d, want 6", cfg.K)
	}
	if cfg.DomesticTxRatio != 0.7 {
		t.Errorf("domestic_tx_ratio = %v, want 0.7", cfg.DomesticTxRatio)
	}
	if cfg.Difficulty != hash.Max || cfg.Threshold != hash.Max {
		t.Error("default targets should be the weakest")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero shards", func(c *Config) { c.ShardNum = 0 }},
		{"shard id out of range", func(c *Config) { c.ShardID = 5 }},
		{"zero block size", func(c *Config) { c.BlockSize = 0 }},
		{"negative k", func(c *Config) { c.K = -1 }},
		{"threshold above difficulty", func(c *Config) {
			c.Difficulty = hash.Zero
			c.Threshold = hash.Max
		}},
	}
	for _, c := range cases {
		cfg := Default()
		c.mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
shard_num: 4
shard_id: 2
block_size: 128
k: 3
difficulty: "00ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
threshold: "000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShardNum != 4 || cfg.ShardID != 2 || cfg.BlockSize != 128 || cfg.K != 3 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Difficulty[0] != 0x00 || cfg.Difficulty[1] != 0xFF {
		t.Error("difficulty not parsed from hex")
	}
	if !cfg.Threshold.Less(cfg.Difficulty) {
		t.Error("threshold should be below difficulty")
	}
}

func TestLoadRejectsBadHex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`difficulty: "xyz"`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("bad hex should fail to load")
	}
}
