// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package keyring stores provider API keys encrypted at rest.
//
// Keys live in a single file (~/.stratifyai/keys.enc) holding a JSON
// envelope: PBKDF2-SHA-256 derives the file key from a passphrase, and
// AES-256-GCM seals the provider→key map. The passphrase is prompted on
// the terminal and never stored.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/term"

	"github.com/Bytes0211/stratifyai/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// KeySize is the AES-256 key size (32 bytes).
const KeySize = 32

// NonceSize is the AES-GCM nonce size (12 bytes / 96 bits).
const NonceSize = 12

// SaltSize is the PBKDF2 salt size (32 bytes).
const SaltSize = 32

// PBKDF2Iterations follows the OWASP 2023 recommendation for
// PBKDF2-SHA-256.
const PBKDF2Iterations = 600000

// envelopeVersion guards against future format changes.
const envelopeVersion = 1

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrWrongPassphrase indicates decryption failed: wrong passphrase or
	// a tampered file.
	ErrWrongPassphrase = errors.New("cannot decrypt keyring: wrong passphrase or corrupted file")

	// ErrKeyNotFound indicates no key is stored for the provider.
	ErrKeyNotFound = errors.New("no key stored for provider")

	// ErrInvalidFormat indicates the keyring file is not a valid envelope.
	ErrInvalidFormat = errors.New("invalid keyring file format")
)

// =============================================================================
// FILE ENVELOPE
// =============================================================================

// envelope is the on-disk JSON wrapper around the sealed key map.
type envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Data       string `json:"data"` // base64(nonce || ciphertext || tag)
}

// DefaultPath returns the keyring location, ~/.stratifyai/keys.enc.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".stratifyai", "keys.enc"), nil
}

// Exists reports whether a keyring file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ZeroBytes zeros sensitive byte slices.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// deriveKey derives the AES key from a passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// =============================================================================
// KEYRING
// =============================================================================

// Keyring is a decrypted in-memory view of the key store. Mutations only
// reach disk through Save.
type Keyring struct {
	path string
	salt []byte
	aead cipher.AEAD
	keys map[string]string
}

// Open loads and decrypts the keyring at path. A missing file yields an
// empty keyring that Save will create.
func Open(path, passphrase string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newEmpty(path, passphrase)
		}
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidFormat
	}
	if env.Version != envelopeVersion || env.Salt == "" || env.Data == "" {
		return nil, ErrInvalidFormat
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if len(sealed) < NonceSize {
		return nil, ErrInvalidFormat
	}

	key := deriveKey(passphrase, salt)
	defer ZeroBytes(key)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer ZeroBytes(plaintext)

	keys := make(map[string]string)
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return nil, ErrInvalidFormat
	}

	return &Keyring{path: path, salt: salt, aead: aead, keys: keys}, nil
}

func newEmpty(path, passphrase string) (*Keyring, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	defer ZeroBytes(key)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	return &Keyring{
		path: path,
		salt: salt,
		aead: aead,
		keys: make(map[string]string),
	}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}
	return gcm, nil
}

// Set stores a key for a provider. Provider names are lowercased.
func (k *Keyring) Set(provider, apiKey string) {
	k.keys[strings.ToLower(provider)] = apiKey
}

// Get returns the key for a provider, or ErrKeyNotFound.
func (k *Keyring) Get(provider string) (string, error) {
	key, ok := k.keys[strings.ToLower(provider)]
	if !ok {
		return "", ErrKeyNotFound
	}
	return key, nil
}

// Remove deletes the key for a provider, reporting whether it existed.
func (k *Keyring) Remove(provider string) bool {
	name := strings.ToLower(provider)
	_, ok := k.keys[name]
	delete(k.keys, name)
	return ok
}

// List returns the providers with a stored key, sorted. Key material is
// never returned by List.
func (k *Keyring) List() []string {
	names := make([]string, 0, len(k.keys))
	for name := range k.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored keys.
func (k *Keyring) Len() int {
	return len(k.keys)
}

// Save seals the key map and writes the envelope.
// SECURITY: Written 0600 and atomically; a fresh random nonce per save.
func (k *Keyring) Save() error {
	plaintext, err := json.Marshal(k.keys)
	if err != nil {
		return fmt.Errorf("marshal keys: %w", err)
	}
	defer ZeroBytes(plaintext)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, plaintext, nil)

	env := envelope{
		Version:    envelopeVersion,
		KDF:        "pbkdf2-sha256",
		Iterations: PBKDF2Iterations,
		Salt:       base64.StdEncoding.EncodeToString(k.salt),
		Data:       base64.StdEncoding.EncodeToString(sealed),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(k.path, data, 0600, 0700); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// =============================================================================
// PASSPHRASE PROMPT
// =============================================================================

// PromptPassphrase reads a passphrase from the terminal without echo.
// confirm re-prompts and requires both entries to match, for first-time
// setup.
func PromptPassphrase(confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("cannot prompt for passphrase: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	defer ZeroBytes(first)

	if len(first) == 0 {
		return "", errors.New("passphrase must not be empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		defer ZeroBytes(second)

		if string(first) != string(second) {
			return "", errors.New("passphrases do not match")
		}
	}

	return string(first), nil
}
