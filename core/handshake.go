// SPDX-License-Identifier: Apache-2.0
package core

import (
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// HandshakeTimeout bounds the entire Hello/HelloAck exchange (spec.md
// §4.5). This protocol is a small, explicit two-message
// challenge-response: it intentionally does not delegate to the Noise
// framework, so there is no handshake pattern negotiation here.
const HandshakeTimeout = 5 * time.Second

var handshakeLogger = log.WithField("component", "handshake")

const (
	helloDomain    = "basalt-hello-v1"
	helloAckDomain = "basalt-ack-v1"
	channelDomain  = "basalt-channel-v1"
)

// HelloMessage is the initiator's first handshake message.
type HelloMessage struct {
	PeerId          PeerId
	Ed25519Pub      Ed25519PublicKey
	X25519Pub       [32]byte
	Challenge       [32]byte
	ChainID         string
	GenesisHash     Hash
	ProtocolVersion uint32
	Signature       Ed25519Signature // over Blake3Keyed(helloDomain, peerId, x25519Pub, challenge, chainID)
}

// HelloAckMessage is the responder's reply, echoing a fresh challenge of
// its own and proving possession of its private key over both
// challenges.
type HelloAckMessage struct {
	PeerId            PeerId
	Ed25519Pub        Ed25519PublicKey
	X25519Pub         [32]byte
	ResponseChallenge [32]byte
	GenesisHash       Hash
	Accepted          bool
	Reason            string
	Signature         Ed25519Signature // over Blake3Keyed(helloAckDomain, peerId, x25519Pub, helloChallenge, responseChallenge)
}

func randomChallenge() ([32]byte, error) {
	var c [32]byte
	if _, err := io.ReadFull(rand.Reader, c[:]); err != nil {
		return c, fmt.Errorf("core: generate challenge: %w", err)
	}
	return c, nil
}

func helloSigningBytes(peerId PeerId, x25519Pub [32]byte, challenge [32]byte, chainID string) []byte {
	w := NewWriter(32 + 32 + 32 + len(chainID))
	w.WriteFixed(peerId[:])
	w.WriteFixed(x25519Pub[:])
	w.WriteFixed(challenge[:])
	w.WriteBytes([]byte(chainID))
	return w.Bytes()
}

func ackSigningBytes(peerId PeerId, x25519Pub [32]byte, helloChallenge, responseChallenge [32]byte) []byte {
	w := NewWriter(32 + 32 + 32 + 32)
	w.WriteFixed(peerId[:])
	w.WriteFixed(x25519Pub[:])
	w.WriteFixed(helloChallenge[:])
	w.WriteFixed(responseChallenge[:])
	return w.Bytes()
}

// HandshakeResult carries everything the transport layer needs to stand
// up a SecureConnection after a successful handshake.
type HandshakeResult struct {
	RemotePeerId PeerId
	RemoteEd25519 Ed25519PublicKey
	SendKey      [32]byte
	RecvKey      [32]byte
}

// PerformInitiatorHandshake runs the Hello/HelloAck exchange as the
// dialing side over conn, identified by identity, targeting expected
// chainID and genesisHash. Returns the derived channel keys on success.
func PerformInitiatorHandshake(conn net.Conn, identity *Ed25519KeyPair, chainID string, genesisHash Hash) (*HandshakeResult, error) {
	ephemeral, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	challenge, err := randomChallenge()
	if err != nil {
		return nil, err
	}
	selfPeerId := PeerIdFromPublicKey(identity.Public)

	hello := HelloMessage{
		PeerId:          selfPeerId,
		Ed25519Pub:      identity.Public,
		X25519Pub:       ephemeral.Public,
		Challenge:       challenge,
		ChainID:         chainID,
		GenesisHash:     genesisHash,
		ProtocolVersion: 1,
	}
	sigBytes := helloSigningBytes(hello.PeerId, hello.X25519Pub, hello.Challenge, hello.ChainID)
	hello.Signature = identity.Sign(Blake3Keyed([]byte(helloDomain), sigBytes)[:])

	if err := writeRaw(conn, encodeHello(&hello)); err != nil {
		return nil, err
	}

	ackBytes, err := readRaw(conn)
	if err != nil {
		return nil, err
	}
	ack, err := decodeHelloAck(ackBytes)
	if err != nil {
		return nil, err
	}
	if !ack.Accepted {
		handshakeLogger.WithField("reason", ack.Reason).Warn("handshake: rejected by responder")
		return nil, NewError(ErrHandshakeFailed, fmt.Sprintf("responder rejected handshake: %s", ack.Reason))
	}
	if ack.GenesisHash != genesisHash {
		return nil, NewError(ErrHandshakeFailed, "genesis hash mismatch")
	}

	expectedDigest := Blake3Keyed([]byte(helloAckDomain), ackSigningBytes(ack.PeerId, ack.X25519Pub, challenge, ack.ResponseChallenge))
	if !Ed25519Verify(ack.Ed25519Pub, expectedDigest[:], ack.Signature) {
		return nil, NewError(ErrHandshakeFailed, "invalid HelloAck signature")
	}
	if PeerIdFromPublicKey(ack.Ed25519Pub) != ack.PeerId {
		return nil, NewError(ErrHandshakeFailed, "HelloAck peer id does not match public key")
	}

	shared, err := ephemeral.SharedSecret(ack.X25519Pub)
	if err != nil {
		return nil, err
	}
	info := channelInfo(selfPeerId, ack.PeerId)
	initToResp, respToInit, err := DeriveChannelKeys(shared, info)
	if err != nil {
		return nil, err
	}

	handshakeLogger.WithField("peer", ack.PeerId).Info("handshake: initiator completed")
	return &HandshakeResult{
		RemotePeerId:  ack.PeerId,
		RemoteEd25519: ack.Ed25519Pub,
		SendKey:       initToResp,
		RecvKey:       respToInit,
	}, nil
}

// PerformResponderHandshake runs the Hello/HelloAck exchange as the
// listening side. accept is called with the inbound peer id and chain id
// before the HelloAck is sent, so callers can enforce allow/ban lists and
// accept-rate limits; returning a non-nil error sends a rejecting
// HelloAck and aborts.
func PerformResponderHandshake(conn net.Conn, identity *Ed25519KeyPair, chainID string, genesisHash Hash, accept func(PeerId, string) error) (*HandshakeResult, error) {
	helloBytes, err := readRaw(conn)
	if err != nil {
		return nil, err
	}
	hello, err := decodeHello(helloBytes)
	if err != nil {
		return nil, err
	}

	digest := Blake3Keyed([]byte(helloDomain), helloSigningBytes(hello.PeerId, hello.X25519Pub, hello.Challenge, hello.ChainID))
	if !Ed25519Verify(hello.Ed25519Pub, digest[:], hello.Signature) {
		return nil, NewError(ErrHandshakeFailed, "invalid Hello signature")
	}
	if PeerIdFromPublicKey(hello.Ed25519Pub) != hello.PeerId {
		return nil, NewError(ErrHandshakeFailed, "Hello peer id does not match public key")
	}
	if hello.ChainID != chainID {
		_ = writeRejection(conn, identity, hello, genesisHash, "chain id mismatch")
		return nil, NewError(ErrHandshakeFailed, "chain id mismatch")
	}
	if hello.GenesisHash != genesisHash {
		_ = writeRejection(conn, identity, hello, genesisHash, "genesis hash mismatch")
		return nil, NewError(ErrHandshakeFailed, "genesis hash mismatch")
	}

	selfPeerId := PeerIdFromPublicKey(identity.Public)
	if acceptErr := accept(hello.PeerId, hello.ChainID); acceptErr != nil {
		_ = writeRejection(conn, identity, hello, genesisHash, acceptErr.Error())
		return nil, WrapErr(ErrHandshakeFailed, acceptErr, "responder policy rejected peer")
	}

	ephemeral, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	responseChallenge, err := randomChallenge()
	if err != nil {
		return nil, err
	}

	ack := HelloAckMessage{
		PeerId:            selfPeerId,
		Ed25519Pub:        identity.Public,
		X25519Pub:         ephemeral.Public,
		ResponseChallenge: responseChallenge,
		GenesisHash:       genesisHash,
		Accepted:          true,
	}
	ackDigest := Blake3Keyed([]byte(helloAckDomain), ackSigningBytes(ack.PeerId, ack.X25519Pub, hello.Challenge, ack.ResponseChallenge))
	ack.Signature = identity.Sign(ackDigest[:])

	if err := writeRaw(conn, encodeHelloAck(&ack)); err != nil {
		return nil, err
	}

	shared, err := ephemeral.SharedSecret(hello.X25519Pub)
	if err != nil {
		return nil, err
	}
	info := channelInfo(hello.PeerId, selfPeerId)
	initToResp, respToInit, err := DeriveChannelKeys(shared, info)
	if err != nil {
		return nil, err
	}

	handshakeLogger.WithField("peer", hello.PeerId).Info("handshake: responder completed")
	return &HandshakeResult{
		RemotePeerId:  hello.PeerId,
		RemoteEd25519: hello.Ed25519Pub,
		SendKey:       respToInit,
		RecvKey:       initToResp,
	}, nil
}

func writeRejection(conn net.Conn, identity *Ed25519KeyPair, hello *HelloMessage, genesisHash Hash, reason string) error {
	ack := HelloAckMessage{
		PeerId:      PeerIdFromPublicKey(identity.Public),
		Ed25519Pub:  identity.Public,
		GenesisHash: genesisHash,
		Accepted:    false,
		Reason:      reason,
	}
	return writeRaw(conn, encodeHelloAck(&ack))
}

// channelInfo binds HKDF key derivation to both peer ids in a canonical
// order so initiator and responder compute identical info bytes
// regardless of which side is "first".
func channelInfo(a, b PeerId) []byte {
	w := NewWriter(len(channelDomain) + 64)
	w.WriteBytes([]byte(channelDomain))
	if bytesCompare(a[:], b[:]) <= 0 {
		w.WriteFixed(a[:])
		w.WriteFixed(b[:])
	} else {
		w.WriteFixed(b[:])
		w.WriteFixed(a[:])
	}
	return w.Bytes()
}

func encodeHello(h *HelloMessage) []byte {
	w := NewWriter(256)
	w.WriteFixed(h.PeerId[:])
	w.WriteEd25519PublicKey(h.Ed25519Pub)
	w.WriteFixed(h.X25519Pub[:])
	w.WriteFixed(h.Challenge[:])
	w.WriteBytes([]byte(h.ChainID))
	w.WriteHash(h.GenesisHash)
	w.WriteU32(h.ProtocolVersion)
	w.WriteEd25519Signature(h.Signature)
	return w.Bytes()
}

func decodeHello(b []byte) (*HelloMessage, error) {
	r := NewReader(b)
	h := &HelloMessage{}
	var err error
	pidBytes, err := r.ReadFixed(PeerIdSize)
	if err != nil {
		return nil, err
	}
	copy(h.PeerId[:], pidBytes)
	if h.Ed25519Pub, err = r.ReadEd25519PublicKey(); err != nil {
		return nil, err
	}
	x25519, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(h.X25519Pub[:], x25519)
	challenge, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(h.Challenge[:], challenge)
	chainID, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	h.ChainID = string(chainID)
	if h.GenesisHash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if h.ProtocolVersion, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if h.Signature, err = r.ReadEd25519Signature(); err != nil {
		return nil, err
	}
	return h, nil
}

func encodeHelloAck(a *HelloAckMessage) []byte {
	w := NewWriter(256)
	w.WriteFixed(a.PeerId[:])
	w.WriteEd25519PublicKey(a.Ed25519Pub)
	w.WriteFixed(a.X25519Pub[:])
	w.WriteFixed(a.ResponseChallenge[:])
	w.WriteHash(a.GenesisHash)
	if a.Accepted {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
	w.WriteBytes([]byte(a.Reason))
	w.WriteEd25519Signature(a.Signature)
	return w.Bytes()
}

func decodeHelloAck(b []byte) (*HelloAckMessage, error) {
	r := NewReader(b)
	a := &HelloAckMessage{}
	pidBytes, err := r.ReadFixed(PeerIdSize)
	if err != nil {
		return nil, err
	}
	copy(a.PeerId[:], pidBytes)
	if a.Ed25519Pub, err = r.ReadEd25519PublicKey(); err != nil {
		return nil, err
	}
	x25519, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(a.X25519Pub[:], x25519)
	respChallenge, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(a.ResponseChallenge[:], respChallenge)
	if a.GenesisHash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	accepted, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	a.Accepted = accepted == 1
	reason, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	a.Reason = string(reason)
	if a.Signature, err = r.ReadEd25519Signature(); err != nil {
		return nil, err
	}
	return a, nil
}
