// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Sybil-resistance limits on inbound connections (spec.md §4.4).
const (
	MaxTotalConnections = 200
	MaxConnectionsPerIP  = 3
)

var transportLogger = log.WithField("component", "transport")

// Transport listens for inbound TCP connections, enforces the accept
// limits, runs the responder handshake, and hands fully-secured
// connections to an application-supplied callback. It mirrors the
// teacher's pooled-connection accept loop but drops libp2p in favor of a
// hand-rolled TCP listener, per this protocol's custom handshake
// (spec.md §4.4-4.5).
type Transport struct {
	identity    *Ed25519KeyPair
	chainID     string
	genesisHash Hash

	mu          sync.Mutex
	listener    net.Listener
	totalConns  int
	perIPConns  map[string]int

	OnConnection func(*SecureConnection)
	AcceptPolicy func(PeerId, string) error
}

// NewTransport constructs a Transport for the given identity, chain id,
// and genesis hash; both chainID and genesisHash are validated during
// every handshake (spec.md §4.5, invariant 6).
func NewTransport(identity *Ed25519KeyPair, chainID string, genesisHash Hash) *Transport {
	return &Transport{
		identity:    identity,
		chainID:     chainID,
		genesisHash: genesisHash,
		perIPConns:  make(map[string]int),
	}
}

// Listen binds addr (host:port) and begins accepting connections in the
// background. Call Close to stop.
func (t *Transport) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapErr(ErrConnectionFailed, err, fmt.Sprintf("listen on %s", addr))
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go t.acceptLoop(ctx, ln)
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				transportLogger.WithError(err).Warn("transport: accept failed")
				return
			}
		}
		go t.handleInbound(conn)
	}
}

func (t *Transport) handleInbound(conn net.Conn) {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	if !t.reserveSlot(host) {
		transportLogger.WithField("remote", host).Warn("transport: rejected, connection limit reached")
		conn.Close()
		return
	}
	defer t.releaseSlot(host)

	policy := t.AcceptPolicy
	if policy == nil {
		policy = func(PeerId, string) error { return nil }
	}

	result, err := PerformResponderHandshake(conn, t.identity, t.chainID, t.genesisHash, policy)
	if err != nil {
		transportLogger.WithError(err).WithField("remote", host).Warn("transport: handshake failed")
		conn.Close()
		return
	}

	sendCipher, err := NewDirectionalCipher(result.SendKey)
	if err != nil {
		conn.Close()
		return
	}
	recvCipher, err := NewDirectionalCipher(result.RecvKey)
	if err != nil {
		conn.Close()
		return
	}

	sc := NewSecureConnection(conn, sendCipher, recvCipher, result.RemotePeerId)
	if t.OnConnection != nil {
		t.OnConnection(sc)
	}
}

// reserveSlot atomically checks and reserves a connection slot against
// both the global and per-IP caps, returning false if either is
// exhausted.
func (t *Transport) reserveSlot(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalConns >= MaxTotalConnections {
		return false
	}
	if t.perIPConns[host] >= MaxConnectionsPerIP {
		return false
	}
	t.totalConns++
	t.perIPConns[host]++
	return true
}

func (t *Transport) releaseSlot(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalConns--
	t.perIPConns[host]--
	if t.perIPConns[host] <= 0 {
		delete(t.perIPConns, host)
	}
}

// Dial connects to addr and runs the initiator handshake, returning a
// ready SecureConnection.
func (t *Transport) Dial(ctx context.Context, addr string) (*SecureConnection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, WrapErr(ErrConnectionFailed, err, fmt.Sprintf("dial %s", addr))
	}

	result, err := PerformInitiatorHandshake(conn, t.identity, t.chainID, t.genesisHash)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sendCipher, err := NewDirectionalCipher(result.SendKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	recvCipher, err := NewDirectionalCipher(result.RecvKey)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return NewSecureConnection(conn, sendCipher, recvCipher, result.RemotePeerId), nil
}

// TransportStats reports the transport's current connection-pool
// occupancy for operational visibility.
type TransportStats struct {
	TotalConns int
	UniqueIPs  int
}

// Stats returns the total number of active inbound connections and the
// number of distinct remote IPs currently holding one.
func (t *Transport) Stats() TransportStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TransportStats{TotalConns: t.totalConns, UniqueIPs: len(t.perIPConns)}
}

// Close stops accepting new connections.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}
