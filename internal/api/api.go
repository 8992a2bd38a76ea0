package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/metrics"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
)

// MinerControl is the miner surface the API drives.
type MinerControl interface {
	StartMining(lambda time.Duration)
	Pause()
}

// GeneratorControl is the workload-source surface.
type GeneratorControl interface {
	SeedInitial()
	Emit()
}

// Server is the HTTP diagnostic API: miner and generator control, chain
// introspection, and the metrics endpoint.
type Server struct {
	cfg        *config.Config
	multichain *multichain.Multichain
	mempool    *mempool.Mempool
	miner      MinerControl
	generator  GeneratorControl
	logger     *zap.Logger
}

// New builds the API server.
func New(cfg *config.Config, mc *multichain.Multichain, mp *mempool.Mempool, miner MinerControl, gen GeneratorControl, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, multichain: mc, mempool: mp, miner: miner, generator: gen, logger: logger}
}

// Handler routes the API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/miner/start", s.handleMinerStart)
	mux.HandleFunc("/miner/pause", s.handleMinerPause)
	mux.HandleFunc("/generator/seed", s.handleGeneratorSeed)
	mux.HandleFunc("/generator/emit", s.handleGeneratorEmit)
	mux.HandleFunc("/chain/tip", s.handleTip)
	mux.HandleFunc("/chain/longest", s.handleLongest)
	mux.HandleFunc("/mempool/size", s.handleMempoolSize)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("api listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleMinerStart(w http.ResponseWriter, r *http.Request) {
	lambdaMicros := s.cfg.LambdaMicros
	if v := r.URL.Query().Get("lambda"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "bad lambda", http.StatusBadRequest)
			return
		}
		lambdaMicros = parsed
	}
	s.miner.StartMining(time.Duration(lambdaMicros) * time.Microsecond)
	writeJSON(w, map[string]any{"status": "mining", "lambda_micros": lambdaMicros})
}

func (s *Server) handleMinerPause(w http.ResponseWriter, _ *http.Request) {
	s.miner.Pause()
	writeJSON(w, map[string]any{"status": "paused"})
}

func (s *Server) handleGeneratorSeed(w http.ResponseWriter, _ *http.Request) {
	s.generator.SeedInitial()
	writeJSON(w, map[string]any{"status": "seeded"})
}

func (s *Server) handleGeneratorEmit(w http.ResponseWriter, r *http.Request) {
	n := 1
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "bad n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	for i := 0; i < n; i++ {
		s.generator.Emit()
	}
	writeJSON(w, map[string]any{"status": "emitted", "count": n})
}

func (s *Server) handleTip(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"shard":        s.cfg.ShardID,
		"tip":          s.multichain.Tip().Hex(),
		"height":       s.multichain.Height(),
		"verified_tip": s.multichain.LongestVerifiedTip().Hex(),
	})
}

func (s *Server) handleLongest(w http.ResponseWriter, _ *http.Request) {
	chain := s.multichain.LongestChain()
	hexes := make([]string, len(chain))
	for i, h := range chain {
		hexes[i] = h.Hex()
	}
	writeJSON(w, map[string]any{"blocks": hexes, "forking_rate": s.multichain.ForkingRate()})
}

func (s *Server) handleMempoolSize(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"size": s.mempool.Len()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
