package p2p

import (
	"context"
	"fmt"
	"path/filepath"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"

	leveldb "github.com/ipfs/go-ds-leveldb"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// DHTNamespace is the Kademlia namespace nodes advertise under.
const DHTNamespace = "manifoldchain"

// Discovery manages peer discovery through a Kademlia DHT persisted in a
// leveldb datastore, seeded from the configured bootnodes.
type Discovery struct {
	host   host.Host
	logger *zap.Logger
	dht    *dht.IpfsDHT
	ds     *leveldb.Datastore
}

// NewDiscovery starts the DHT and connects to bootnodes.
func NewDiscovery(ctx context.Context, h host.Host, dataDir string, bootnodes []string, logger *zap.Logger) (*Discovery, error) {
	ds, err := leveldb.NewDatastore(filepath.Join(dataDir, "dht"), nil)
	if err != nil {
		return nil, fmt.Errorf("open dht datastore: %w", err)
	}
	kadDHT, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer), dht.Datastore(ds))
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("create DHT: %w", err)
	}
	d := &Discovery{host: h, logger: logger, dht: kadDHT, ds: ds}

	if err := kadDHT.Bootstrap(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("bootstrap DHT: %w", err)
	}

	for _, bn := range bootnodes {
		if _, err := ma.NewMultiaddr(bn); err != nil {
			logger.Warn("invalid bootnode multiaddr", zap.String("addr", bn), zap.Error(err))
			continue
		}
		addr, err := peer.AddrInfoFromString(bn)
		if err != nil {
			logger.Warn("invalid bootnode address", zap.String("addr", bn), zap.Error(err))
			continue
		}
		if err := h.Connect(ctx, *addr); err != nil {
			logger.Warn("failed to connect to bootnode", zap.String("addr", bn), zap.Error(err))
		} else {
			logger.Info("connected to bootnode", zap.String("peer", addr.ID.String()))
		}
	}

	rd := drouting.NewRoutingDiscovery(kadDHT)
	go d.advertiseLoop(ctx, rd)
	go d.discoverLoop(ctx, rd)
	return d, nil
}

func (d *Discovery) advertiseLoop(ctx context.Context, rd *drouting.RoutingDiscovery) {
	for {
		if _, err := rd.Advertise(ctx, DHTNamespace); err != nil {
			d.logger.Debug("DHT advertise error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (d *Discovery) discoverLoop(ctx context.Context, rd *drouting.RoutingDiscovery) {
	peerCh, err := rd.FindPeers(ctx, DHTNamespace)
	if err != nil {
		d.logger.Error("DHT find peers error", zap.Error(err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case pi, ok := <-peerCh:
			if !ok {
				return
			}
			if pi.ID == d.host.ID() || pi.ID == "" {
				continue
			}
			if err := d.host.Connect(ctx, pi); err != nil {
				d.logger.Debug("failed to connect to DHT peer", zap.String("peer", pi.ID.String()), zap.Error(err))
			} else {
				d.logger.Info("connected to DHT peer", zap.String("peer", pi.ID.String()))
			}
		}
	}
}

// Close stops the DHT and its datastore.
func (d *Discovery) Close() {
	if d.dht != nil {
		_ = d.dht.Close()
	}
	if d.ds != nil {
		_ = d.ds.Close()
	}
}
