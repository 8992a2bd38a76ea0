package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/api"
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/confirmation"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/miner"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/node"
	"github.com/manifoldchain/manifoldchain/internal/p2p"
	"github.com/manifoldchain/manifoldchain/internal/txgen"
	"github.com/manifoldchain/manifoldchain/internal/validator"
)

const (
	networkWorkers     = 4
	sampleScanInterval = 30 * time.Second
	generatorInterval  = 50 * time.Millisecond
)

func main() {
	var (
		configPath string
		shardID    int
		shardNum   int
		listenPort int
		dataDir    string
		apiAddr    string
		bootnodes  []string
		mine       bool
		generate   bool
	)

	root := &cobra.Command{
		Use:   "manifoldchaind",
		Short: "Sharded proof-of-work UTXO blockchain node",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a shard node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("shard-id") {
				cfg.ShardID = shardID
			}
			if cmd.Flags().Changed("shard-num") {
				cfg.ShardNum = shardNum
			}
			if cmd.Flags().Changed("listen-port") {
				cfg.ListenPort = listenPort
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("api-addr") {
				cfg.APIAddr = apiAddr
			}
			if len(bootnodes) > 0 {
				cfg.Bootnodes = bootnodes
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runNode(cfg, mine, generate)
		},
	}
	run.Flags().StringVar(&configPath, "config", "", "path to YAML config")
	run.Flags().IntVar(&shardID, "shard-id", 0, "shard this node belongs to")
	run.Flags().IntVar(&shardNum, "shard-num", 1, "total number of shards")
	run.Flags().IntVar(&listenPort, "listen-port", 9000, "p2p listen port")
	run.Flags().StringVar(&dataDir, "data-dir", "data", "data directory")
	run.Flags().StringVar(&apiAddr, "api-addr", "127.0.0.1:8545", "diagnostic API address")
	run.Flags().StringSliceVar(&bootnodes, "bootnode", nil, "bootnode multiaddrs")
	run.Flags().BoolVar(&mine, "mine", true, "start mining immediately")
	run.Flags().BoolVar(&generate, "generate", false, "run the workload generator")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNode(cfg *config.Config, mine, generate bool) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.Int("shard", cfg.ShardID), zap.Int("node", cfg.NodeID))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nodeDir := filepath.Join(cfg.DataDir, fmt.Sprintf("shard-%d-node-%d", cfg.ShardID, cfg.NodeID))
	if err := os.MkdirAll(nodeDir, 0o700); err != nil {
		return err
	}

	blockStore, stateStore, err := chain.OpenStores(nodeDir, logger)
	if err != nil {
		return err
	}
	defer blockStore.Close()
	defer stateStore.Close()

	mc := multichain.New(cfg, logger, func(shard int) []chain.Option {
		if shard != cfg.ShardID {
			return nil
		}
		return []chain.Option{chain.WithStores(blockStore, stateStore)}
	})
	mp := mempool.New(logger)
	val := validator.New(mc, mp, cfg, logger)
	conf := confirmation.New(mc, cfg, logger)

	network, err := p2p.NewNetwork(ctx, cfg, nodeDir, logger)
	if err != nil {
		return err
	}
	defer network.Close()

	engine := node.NewEngine(mc, mp, val, conf, cfg, network, logger)

	for i := 0; i < networkWorkers; i++ {
		worker := p2p.NewWorker(network, engine, mc, mp, val, cfg, logger.With(zap.Int("worker", i)))
		go worker.Run(ctx)
	}
	if err := network.StartDiscovery(ctx, nodeDir); err != nil {
		return err
	}

	m := miner.New(mc, mp, val, cfg, logger)
	go m.Run(ctx)
	minerWorker := miner.NewWorker(m, engine, network, cfg, logger)
	go minerWorker.Run(ctx)
	sampleVerifier := miner.NewSampleVerifier(mc, network, cfg, sampleScanInterval, logger)
	go sampleVerifier.Run(ctx)

	gen, err := txgen.New(cfg, mp, val, mc, logger)
	if err != nil {
		return err
	}
	if generate {
		gen.SeedInitial()
		go gen.Run(ctx, generatorInterval)
	}
	if mine {
		m.StartMining(time.Duration(cfg.LambdaMicros) * time.Microsecond)
	}

	apiServer := api.New(cfg, mc, mp, m, gen, logger)
	go func() {
		if err := apiServer.ListenAndServe(cfg.APIAddr); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("node running")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
