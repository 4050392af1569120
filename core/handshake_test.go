// SPDX-License-Identifier: Apache-2.0
package core

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

var testGenesisHash = Blake3Hash([]byte("test-genesis"))

func TestHandshakeSuccessDerivesMatchingChannelKeys(t *testing.T) {
	initiatorIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	responderIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type initiatorOutcome struct {
		result *HandshakeResult
		err    error
	}
	initiatorDone := make(chan initiatorOutcome, 1)
	go func() {
		res, err := PerformInitiatorHandshake(clientConn, initiatorIdentity, "basalt-devnet", testGenesisHash)
		initiatorDone <- initiatorOutcome{res, err}
	}()

	responderResult, responderErr := PerformResponderHandshake(serverConn, responderIdentity, "basalt-devnet", testGenesisHash, func(PeerId, string) error {
		return nil
	})
	require.NoError(t, responderErr)

	out := <-initiatorDone
	require.NoError(t, out.err)

	require.Equal(t, PeerIdFromPublicKey(responderIdentity.Public), out.result.RemotePeerId)
	require.Equal(t, PeerIdFromPublicKey(initiatorIdentity.Public), responderResult.RemotePeerId)

	// The initiator's send key must equal the responder's receive key,
	// and vice versa, so a DirectionalCipher pair can talk to each other.
	require.Equal(t, out.result.SendKey, responderResult.RecvKey)
	require.Equal(t, out.result.RecvKey, responderResult.SendKey)
}

func TestHandshakeRejectsChainIDMismatch(t *testing.T) {
	initiatorIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	responderIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type initiatorOutcome struct {
		result *HandshakeResult
		err    error
	}
	initiatorDone := make(chan initiatorOutcome, 1)
	go func() {
		res, err := PerformInitiatorHandshake(clientConn, initiatorIdentity, "basalt-mainnet", testGenesisHash)
		initiatorDone <- initiatorOutcome{res, err}
	}()

	_, responderErr := PerformResponderHandshake(serverConn, responderIdentity, "basalt-devnet", testGenesisHash, func(PeerId, string) error {
		return nil
	})
	require.Error(t, responderErr)

	out := <-initiatorDone
	require.Error(t, out.err)
}

func TestHandshakeRejectsGenesisHashMismatch(t *testing.T) {
	initiatorIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	responderIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type initiatorOutcome struct {
		result *HandshakeResult
		err    error
	}
	initiatorDone := make(chan initiatorOutcome, 1)
	go func() {
		res, err := PerformInitiatorHandshake(clientConn, initiatorIdentity, "basalt-devnet", Blake3Hash([]byte("genesis-a")))
		initiatorDone <- initiatorOutcome{res, err}
	}()

	_, responderErr := PerformResponderHandshake(serverConn, responderIdentity, "basalt-devnet", Blake3Hash([]byte("genesis-b")), func(PeerId, string) error {
		return nil
	})
	require.Error(t, responderErr)
	require.Contains(t, responderErr.Error(), "genesis")

	out := <-initiatorDone
	require.Error(t, out.err)
}

func TestHandshakeRejectsPolicyDeniedPeer(t *testing.T) {
	initiatorIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	responderIdentity, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiatorDone := make(chan error, 1)
	go func() {
		_, err := PerformInitiatorHandshake(clientConn, initiatorIdentity, "basalt-devnet", testGenesisHash)
		initiatorDone <- err
	}()

	_, responderErr := PerformResponderHandshake(serverConn, responderIdentity, "basalt-devnet", testGenesisHash, func(PeerId, string) error {
		return NewError(ErrBanned, "peer is banned")
	})
	require.Error(t, responderErr)
	require.Error(t, <-initiatorDone)
}
