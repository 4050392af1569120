// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"basalt/core"
	"basalt/pkg/config"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage a basalt node process",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the p2p transport, gossip engine, and dispatcher",
	RunE:  runNodeStart,
}

func init() {
	nodeCmd.AddCommand(nodeStartCmd)
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("basalt: load config: %w", err)
	}

	identity, err := nodeIdentity(cfg)
	if err != nil {
		return fmt.Errorf("basalt: node identity: %w", err)
	}
	selfID := core.PeerIdFromPublicKey(identity.Public)

	store, err := core.OpenBadgerStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("basalt: open store: %w", err)
	}
	defer store.Close()

	stateDB := core.NewStateDB(store)
	flat := core.NewFlatCache(stateDB)
	stateRef := core.NewStateRef(flat)
	_ = stateRef // held canonically; wired into block application by the consensus engine (out of scope here)

	registry := core.NewPeerRegistry()

	transport := core.NewTransport(identity, cfg.ChainID, cfg.GenesisHash)
	transport.AcceptPolicy = func(id core.PeerId, host string) error {
		if registry.IsBanned(id) {
			return core.NewError(core.ErrBanned, "peer is banned")
		}
		return nil
	}

	dispatcher := core.NewDispatcher()
	sender := &dispatchSender{transport: transport, registry: registry}
	gossip := core.NewGossipEngine(selfID, sender, registry)
	routing := core.NewKademliaTable(selfID)

	registerDiscoveryHandlers(dispatcher, sender, registry, routing, selfID)
	registerGossipHandlers(dispatcher, gossip)
	registerLivenessHandlers(dispatcher, sender, selfID)

	onConnected := func(conn *core.SecureConnection, addr string) {
		if err := registry.Register(conn.PeerId, addr, conn); err != nil {
			nodeLogger.WithError(err).WithField("peer", conn.PeerId).Warn("basalt: reject peer")
			conn.Close()
			return
		}
		gossip.AddPeer(conn.PeerId)
		routing.AddPeer(conn.PeerId)
		nodeLogger.WithFields(logrus.Fields{"peer": conn.PeerId, "session": conn.SessionID}).Info("basalt: peer connected")
		go serveConnection(conn, dispatcher, registry, gossip, routing)
	}

	transport.OnConnection = func(conn *core.SecureConnection) {
		onConnected(conn, conn.RemoteAddr().String())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf(":%d", cfg.P2PPort)
	if err := transport.Listen(ctx, addr); err != nil {
		return fmt.Errorf("basalt: listen %s: %w", addr, err)
	}
	nodeLogger.WithFields(logrus.Fields{"chain_id": cfg.ChainID, "genesis_hash": cfg.GenesisHash, "addr": addr, "peer_id": selfID}).Info("basalt: node started")

	// The dial goroutines share errgroup's cancellation and are waited on
	// during shutdown, so the process does not exit with a bootstrap
	// dial still mid-backoff.
	dialers, dialersCtx := errgroup.WithContext(ctx)
	for _, peerAddr := range cfg.Peers {
		peerAddr := peerAddr
		registry.AddStatic(staticPlaceholderID(peerAddr), peerAddr)
		dialers.Go(func() error {
			dialStatic(dialersCtx, transport, peerAddr, onConnected)
			return nil
		})
	}

	decayTicker := time.NewTicker(30 * time.Second)
	defer decayTicker.Stop()
	rebalanceTicker := time.NewTicker(10 * time.Second)
	defer rebalanceTicker.Stop()
	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			nodeLogger.Info("basalt: shutting down")
			closeErr := transport.Close()
			_ = dialers.Wait() // goroutines return nil themselves; this just blocks until they've all exited
			return closeErr
		case <-decayTicker.C:
			registry.DecayReputation()
		case <-rebalanceTicker.C:
			gossip.Rebalance()
		case <-statsTicker.C:
			stats := transport.Stats()
			nodeLogger.WithFields(logrus.Fields{
				"total_conns": stats.TotalConns,
				"unique_ips":  stats.UniqueIPs,
				"eager_peers": gossip.EagerCount(),
				"lazy_peers":  gossip.LazyCount(),
				"known_peers": registry.Len(),
			}).Info("basalt: connection pool stats")
		}
	}
}

// staticPlaceholderID derives a stable placeholder PeerId for a static
// peer's address entry before its real identity is known. The
// placeholder entry is left as it is after the handshake: onConnected
// registers the live connection under the peer's real PeerId as a
// separate registry entry.
func staticPlaceholderID(addr string) core.PeerId {
	return core.PeerIdFromPublicKey(core.Ed25519PublicKey(core.Blake3Hash([]byte(addr))))
}

// dialStatic repeatedly dials addr until it succeeds or ctx is done,
// then hands the resulting connection to onConnected. A static peer
// that drops later is not redialed.
func dialStatic(ctx context.Context, transport *core.Transport, addr string, onConnected func(*core.SecureConnection, string)) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := transport.Dial(ctx, addr)
		if err != nil {
			nodeLogger.WithError(err).WithField("addr", addr).Debug("basalt: dial static peer failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		onConnected(conn, addr)
		return
	}
}

var nodeLogger = logrus.WithField("component", "cmd/node")

// dispatchSender bridges gossip's abstract send interface to the live
// peer registry's connections.
type dispatchSender struct {
	transport *core.Transport
	registry  *core.PeerRegistry
}

func (s *dispatchSender) SendEnvelope(peer core.PeerId, env *core.Envelope) error {
	info, ok := s.registry.Get(peer)
	if !ok || info.Conn == nil {
		return core.NewError(core.ErrPeerNotFound, "peer not connected")
	}
	return info.Conn.WriteMessage(env.Encode())
}

// registerDiscoveryHandlers wires the Kademlia-lite FindNode/FindNodeResponse
// exchange into dispatcher: an inbound FindNode is answered with the
// nearest known peers that have a dialable address, and an inbound
// FindNodeResponse feeds the sender's peers into both the routing table
// and the registry as dial candidates.
func registerDiscoveryHandlers(dispatcher *core.Dispatcher, sender *dispatchSender, registry *core.PeerRegistry, routing *core.KademliaTable, selfID core.PeerId) {
	dispatcher.Register(core.MsgFindNode, func(peer core.PeerId, env *core.Envelope) error {
		req, err := core.DecodeFindNodeRequest(env.Body)
		if err != nil {
			return err
		}
		resp := &core.NodesResponse{}
		for _, id := range routing.Nearest(req.Target, kademliaResponseCount) {
			info, ok := registry.Get(id)
			if !ok || info.Address == "" {
				continue
			}
			resp.Peers = append(resp.Peers, core.NodeRecord{Id: id, Address: info.Address})
		}
		reply := core.NewEnvelope(core.MsgFindNodeResponse, selfID, resp.Encode())
		return sender.SendEnvelope(peer, reply)
	})

	dispatcher.Register(core.MsgFindNodeResponse, func(peer core.PeerId, env *core.Envelope) error {
		resp, err := core.DecodeNodesResponse(env.Body)
		if err != nil {
			return err
		}
		for _, rec := range resp.Peers {
			if rec.Id == selfID {
				continue
			}
			registry.AddDiscovered(rec.Id, rec.Address)
			routing.AddPeer(rec.Id)
		}
		return nil
	})
}

const kademliaResponseCount = 20

// registerLivenessHandlers answers an inbound Ping with a Pong echoing
// the same timestamp, so the sender can measure round-trip latency
// (spec.md §4.8). Pong itself carries no reply; receiving either
// updates the peer's LastSeen via serveConnection's unconditional
// registry.Touch, so no further action is needed here.
func registerLivenessHandlers(dispatcher *core.Dispatcher, sender *dispatchSender, selfID core.PeerId) {
	dispatcher.Register(core.MsgPing, func(peer core.PeerId, env *core.Envelope) error {
		pong := core.NewEnvelope(core.MsgPong, selfID, nil)
		pong.Timestamp = env.Timestamp
		return sender.SendEnvelope(peer, pong)
	})
	dispatcher.Register(core.MsgPong, func(peer core.PeerId, env *core.Envelope) error {
		return nil
	})
}

// registerGossipHandlers wires the IHAVE/IWANT/full-message tags into
// dispatcher, delegating the pull-protocol bookkeeping to gossip
// (spec.md §4.7-§4.8). A delivered full message is logged rather than
// handed to a consensus engine or mempool, since both are out-of-scope
// external collaborators (spec.md §1); it is still re-broadcast so the
// node participates correctly in dissemination.
func registerGossipHandlers(dispatcher *core.Dispatcher, gossip *core.GossipEngine) {
	dispatcher.Register(core.MsgGossipIHave, func(peer core.PeerId, env *core.Envelope) error {
		digest, err := core.HashFromBytes(env.Body)
		if err != nil {
			return err
		}
		gossip.HandleIHave(peer, digest)
		return nil
	})

	dispatcher.Register(core.MsgGossipIWant, func(peer core.PeerId, env *core.Envelope) error {
		digest, err := core.HashFromBytes(env.Body)
		if err != nil {
			return err
		}
		gossip.HandleIWant(peer, []core.Hash{digest})
		return nil
	})

	dispatcher.Register(core.MsgGossipFullMessage, func(peer core.PeerId, env *core.Envelope) error {
		return gossip.HandleFullMessage(peer, env.Body, func(inner *core.Envelope) {
			nodeLogger.WithFields(logrus.Fields{"peer": peer, "type": inner.Type}).Debug("basalt: gossip message delivered")
		})
	})
}

func serveConnection(conn *core.SecureConnection, dispatcher *core.Dispatcher, registry *core.PeerRegistry, gossip *core.GossipEngine, routing *core.KademliaTable) {
	defer func() {
		registry.Disconnect(conn.PeerId)
		gossip.RemovePeer(conn.PeerId)
		routing.RemovePeer(conn.PeerId)
		conn.Close()
	}()
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			nodeLogger.WithError(err).WithFields(logrus.Fields{"peer": conn.PeerId, "session": conn.SessionID}).Debug("basalt: connection closed")
			return
		}
		registry.Touch(conn.PeerId)
		if err := dispatcher.Dispatch(conn.PeerId, raw); err != nil {
			nodeLogger.WithError(err).WithField("peer", conn.PeerId).Warn("basalt: dispatch failed")
		}
	}
}

func nodeIdentity(cfg *config.Config) (*core.Ed25519KeyPair, error) {
	if cfg.ValidatorKeyHex == "" {
		return core.GenerateEd25519KeyPair()
	}
	seed, err := hex.DecodeString(cfg.ValidatorKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode VALIDATOR_KEY: %w", err)
	}
	return core.Ed25519KeyPairFromSeed(seed)
}
