// SPDX-License-Identifier: Apache-2.0
package core

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/google/uuid"
)

// IdleTimeout disconnects a peer connection that exchanges no frames for
// this long (spec.md §4.4).
const IdleTimeout = 120 * time.Second

// SecureConnection wraps a raw net.Conn with per-direction AES-256-GCM
// ciphers negotiated during the handshake (spec.md §4.4, §4.5). Every
// frame on the wire is [12-byte nonce][GCM ciphertext+tag], itself
// length-prefixed by WriteFrame/ReadFrame.
type SecureConnection struct {
	conn net.Conn

	send *DirectionalCipher
	recv *DirectionalCipher

	PeerId PeerId

	// SessionID uniquely labels this connection instance for structured
	// logging, distinct from PeerId: a peer that reconnects gets a new
	// SessionID each time, letting log correlation tell two connection
	// attempts from the same peer apart.
	SessionID string
}

// NewSecureConnection wraps conn with the two directional ciphers derived
// during the handshake.
func NewSecureConnection(conn net.Conn, send, recv *DirectionalCipher, peerId PeerId) *SecureConnection {
	return &SecureConnection{conn: conn, send: send, recv: recv, PeerId: peerId, SessionID: uuid.NewString()}
}

// WriteMessage encrypts and frames a single application message.
func (c *SecureConnection) WriteMessage(plaintext []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(IdleTimeout)); err != nil {
		return WrapErr(ErrConnectionFailed, err, "set write deadline")
	}
	nonce, ciphertext := c.send.Seal(plaintext)

	payload := make([]byte, len(nonce)+len(ciphertext))
	copy(payload[:len(nonce)], nonce[:])
	copy(payload[len(nonce):], ciphertext)

	return WriteFrame(c.conn, payload)
}

// ReadMessage reads, authenticates, and decrypts the next application
// message, enforcing IdleTimeout and replay protection.
func (c *SecureConnection) ReadMessage() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
		return nil, WrapErr(ErrConnectionFailed, err, "set read deadline")
	}
	payload, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if len(payload) < 12 {
		return nil, NewError(ErrInvalidFrame, "secure frame shorter than nonce")
	}
	counter := binary.BigEndian.Uint64(payload[4:12])
	return c.recv.Open(counter, payload[12:])
}

// Close closes the underlying connection.
func (c *SecureConnection) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *SecureConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// writeRaw and readRaw are used only during the unencrypted handshake
// preamble, before directional ciphers exist.
func writeRaw(conn net.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return WrapErr(ErrConnectionFailed, err, "set handshake write deadline")
	}
	return WriteFrame(conn, payload)
}

func readRaw(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return nil, WrapErr(ErrConnectionFailed, err, "set handshake read deadline")
	}
	return ReadFrame(conn)
}

