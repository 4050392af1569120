// SPDX-License-Identifier: Apache-2.0
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"basalt/core"
)

var keygenOutput string
var keygenPassphraseEnv string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 validator identity sealed into a keystore file, plus a BLS voting key whose public key is logged (its secret key is not stored)",
	RunE:  runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOutput, "out", "validator.keystore.json", "keystore output path")
	keygenCmd.Flags().StringVar(&keygenPassphraseEnv, "passphrase-env", "KEYSTORE_PASSPHRASE", "environment variable holding the keystore passphrase")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	passphrase := os.Getenv(keygenPassphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("basalt: %s must be set to a non-empty passphrase", keygenPassphraseEnv)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("basalt: generate seed: %w", err)
	}
	ed, err := core.Ed25519KeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("basalt: derive ed25519 key: %w", err)
	}
	bls, err := core.GenerateBlsKeyPair()
	if err != nil {
		return fmt.Errorf("basalt: generate bls key: %w", err)
	}

	kf, err := core.EncryptKeystore(seed, passphrase, core.DefaultArgon2idParams())
	if err != nil {
		return fmt.Errorf("basalt: seal keystore: %w", err)
	}
	raw, err := core.MarshalKeystore(kf)
	if err != nil {
		return fmt.Errorf("basalt: marshal keystore: %w", err)
	}
	if err := os.WriteFile(keygenOutput, raw, 0o600); err != nil {
		return fmt.Errorf("basalt: write keystore: %w", err)
	}

	peerID := core.PeerIdFromPublicKey(ed.Public)
	nodeLogger.WithFields(map[string]interface{}{
		"address":    kf.Address,
		"peer_id":    peerID.String(),
		"bls_pubkey": hex.EncodeToString(bls.Public[:]),
		"keystore":   keygenOutput,
	}).Info("basalt: generated validator identity")
	return nil
}
