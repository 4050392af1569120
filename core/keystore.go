// SPDX-License-Identifier: Apache-2.0
package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
)

//---------------------------------------------------------------------
// Keystore – Argon2id-protected Ed25519 seed storage (spec.md §6)
//---------------------------------------------------------------------

var keystoreLogger = log.WithField("component", "keystore")

const gcmTagSize = 16

// Argon2idParams are the KDF tuning parameters recorded in every
// keystore file's kdfparams block, matching spec.md §6's devnet
// defaults.
type Argon2idParams struct {
	Salt        string `json:"salt"`
	Iterations  uint32 `json:"iterations"`
	MemoryKB    uint32 `json:"memory_kb"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultArgon2idParams returns the devnet KDF tuning: 3 passes, 64 MiB,
// 4-way parallelism. Salt is filled in by EncryptKeystore.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{Iterations: 3, MemoryKB: 64 * 1024, Parallelism: 4}
}

// keystoreCrypto is the nested crypto block of a keystore file,
// following spec.md §6's external interface exactly so other
// implementations can interoperate with files this node writes.
type keystoreCrypto struct {
	Cipher     string         `json:"cipher"`
	Ciphertext string         `json:"ciphertext"`
	Nonce      string         `json:"nonce"`
	Tag        string         `json:"tag"`
	KDF        string         `json:"kdf"`
	KDFParams  Argon2idParams `json:"kdfparams"`
}

// KeystoreFile is the JSON-on-disk representation of an encrypted
// validator or wallet key (spec.md §6):
//
//	{ "version": 1, "address": "...",
//	  "crypto": { "cipher": "aes-256-gcm", "ciphertext": "...",
//	              "nonce": "...", "tag": "...", "kdf": "argon2id",
//	              "kdfparams": { "salt", "iterations", "memory_kb", "parallelism" } } }
type KeystoreFile struct {
	Version int             `json:"version"`
	Address string          `json:"address"`
	Crypto  keystoreCrypto `json:"crypto"`
}

const keystoreVersion = 1
const keystoreCipherName = "aes-256-gcm"

// EncryptKeystore derives a 32-byte key from passphrase via Argon2id and
// seals the Ed25519 seed with AES-256-GCM, producing a file ready for
// JSON serialization.
func EncryptKeystore(seed []byte, passphrase string, params Argon2idParams) (*KeystoreFile, error) {
	if len(seed) == 0 {
		return nil, NewError(ErrConfiguration, "keystore: empty seed")
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("core: keystore salt: %w", err)
	}
	params.Salt = hex.EncodeToString(salt)
	key := argon2.IDKey([]byte(passphrase), salt, params.Iterations, params.MemoryKB, params.Parallelism, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("core: keystore cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("core: keystore gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("core: keystore nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, seed, nil)
	ciphertext, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	kp, err := Ed25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	addr := AddressFromEd25519PublicKey(kp.Public)

	keystoreLogger.WithField("address", addr).Info("keystore: sealed new key")

	return &KeystoreFile{
		Version: keystoreVersion,
		Address: addr.String(),
		Crypto: keystoreCrypto{
			Cipher:     keystoreCipherName,
			Ciphertext: hex.EncodeToString(ciphertext),
			Nonce:      hex.EncodeToString(nonce),
			Tag:        hex.EncodeToString(tag),
			KDF:        "argon2id",
			KDFParams:  params,
		},
	}, nil
}

// DecryptKeystore reverses EncryptKeystore, recovering the raw Ed25519
// seed. Returns ErrConfiguration wrapping the AEAD failure on a wrong
// passphrase or corrupted file.
func DecryptKeystore(kf *KeystoreFile, passphrase string) ([]byte, error) {
	c := kf.Crypto
	if c.KDF != "argon2id" {
		return nil, NewError(ErrConfiguration, fmt.Sprintf("keystore: unsupported kdf %q", c.KDF))
	}
	if c.Cipher != keystoreCipherName {
		return nil, NewError(ErrConfiguration, fmt.Sprintf("keystore: unsupported cipher %q", c.Cipher))
	}
	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("core: keystore salt decode: %w", err)
	}
	nonce, err := hex.DecodeString(c.Nonce)
	if err != nil {
		return nil, fmt.Errorf("core: keystore nonce decode: %w", err)
	}
	ciphertext, err := hex.DecodeString(c.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("core: keystore ciphertext decode: %w", err)
	}
	tag, err := hex.DecodeString(c.Tag)
	if err != nil {
		return nil, fmt.Errorf("core: keystore tag decode: %w", err)
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)

	key := argon2.IDKey([]byte(passphrase), salt, c.KDFParams.Iterations, c.KDFParams.MemoryKB, c.KDFParams.Parallelism, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("core: keystore cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("core: keystore gcm: %w", err)
	}
	seed, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, WrapErr(ErrConfiguration, err, "keystore: decrypt failed, wrong passphrase or corrupted file")
	}
	return seed, nil
}

// MarshalKeystore renders kf as indented JSON for on-disk storage.
func MarshalKeystore(kf *KeystoreFile) ([]byte, error) {
	return json.MarshalIndent(kf, "", "  ")
}

// UnmarshalKeystore parses a keystore JSON file.
func UnmarshalKeystore(data []byte) (*KeystoreFile, error) {
	var kf KeystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("core: keystore parse: %w", err)
	}
	return &kf, nil
}
