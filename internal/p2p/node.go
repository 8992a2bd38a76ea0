package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/metrics"
)

// Network owns the libp2p host and the gossip topics: the node's own shard
// topic, the global topic, and publish-only handles to the other shards'
// topics for targeted cross-shard traffic.
type Network struct {
	Host   host.Host
	logger *zap.Logger
	cfg    *config.Config

	ps          *pubsub.PubSub
	shardTopics []*pubsub.Topic
	globalTopic *pubsub.Topic

	ownSub    *pubsub.Subscription
	globalSub *pubsub.Subscription

	incoming  chan *Message
	discovery *Discovery
}

// NewNetwork starts the host and joins the topics. Subscriptions cover the
// node's own shard and the global channel; every shard topic is joined for
// publishing.
func NewNetwork(ctx context.Context, cfg *config.Config, dataDir string, logger *zap.Logger) (*Network, error) {
	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)

	privKey, err := LoadOrCreateIdentity(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(50, 100, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("setup pubsub: %w", err)
	}

	n := &Network{
		Host:        h,
		logger:      logger,
		cfg:         cfg,
		ps:          ps,
		shardTopics: make([]*pubsub.Topic, cfg.ShardNum),
		incoming:    make(chan *Message, 256),
	}
	for i := 0; i < cfg.ShardNum; i++ {
		topic, err := ps.Join(ShardTopicName(i))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("join shard topic %d: %w", i, err)
		}
		n.shardTopics[i] = topic
	}
	n.globalTopic, err = ps.Join(GlobalTopicName())
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("join global topic: %w", err)
	}

	n.ownSub, err = n.shardTopics[cfg.ShardID].Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("subscribe shard topic: %w", err)
	}
	n.globalSub, err = n.globalTopic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("subscribe global topic: %w", err)
	}

	go n.readLoop(ctx, n.ownSub)
	go n.readLoop(ctx, n.globalSub)

	logger.Info("p2p node started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("port", cfg.ListenPort),
		zap.Int("shard", cfg.ShardID),
	)
	return n, nil
}

// StartDiscovery begins DHT peer discovery. Call after all handlers are
// wired.
func (n *Network) StartDiscovery(ctx context.Context, dataDir string) error {
	d, err := NewDiscovery(ctx, n.Host, dataDir, n.cfg.Bootnodes, n.logger)
	if err != nil {
		return err
	}
	n.discovery = d
	return nil
}

// Incoming is the stream of decoded messages from both subscriptions.
func (n *Network) Incoming() <-chan *Message {
	return n.incoming
}

// PeerCount reports connected peers.
func (n *Network) PeerCount() int {
	return len(n.Host.Network().Peers())
}

// ConnectedPeers lists connected peer ids.
func (n *Network) ConnectedPeers() []peer.ID {
	return n.Host.Network().Peers()
}

// publishShard sends msg on one shard's topic.
func (n *Network) publishShard(shardID int, msg *Message) {
	if shardID < 0 || shardID >= len(n.shardTopics) {
		return
	}
	n.publish(n.shardTopics[shardID], msg)
}

// publishGlobal sends msg on the global topic.
func (n *Network) publishGlobal(msg *Message) {
	n.publish(n.globalTopic, msg)
}

func (n *Network) publish(topic *pubsub.Topic, msg *Message) {
	data, err := Encode(msg)
	if err != nil {
		n.logger.Error("encode message", zap.Error(err))
		return
	}
	if n.cfg.NetworkDelayMs > 0 {
		time.Sleep(time.Duration(n.cfg.NetworkDelayMs) * time.Millisecond)
	}
	if err := topic.Publish(context.Background(), data); err != nil {
		n.logger.Warn("publish", zap.Error(err), zap.String("topic", topic.String()))
	}
}

func (n *Network) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	self := n.Host.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Error("pubsub read error", zap.Error(err))
			continue
		}
		if msg.GetFrom() == self {
			continue
		}
		metrics.PeersConnected.Set(float64(n.PeerCount()))
		decoded, err := Decode(msg.Data)
		if err != nil {
			n.logger.Debug("invalid message", zap.Error(err))
			continue
		}
		select {
		case n.incoming <- decoded:
		default:
			n.logger.Warn("incoming message queue full, dropping")
		}
	}
}

// Close shuts the host down.
func (n *Network) Close() error {
	if n.discovery != nil {
		n.discovery.Close()
	}
	return n.Host.Close()
}
