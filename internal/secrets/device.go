package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const seedSize = 32

var (
	// ErrNoSeed is returned when a DeviceKey has no seed material.
	ErrNoSeed = errors.New("secrets: device seed unavailable")
	// ErrBadSeed reports a seed file that exists but cannot be used; it is never replaced automatically.
	ErrBadSeed = errors.New("secrets: device seed file is malformed")
)

// DeviceKey derives per-device factors from a seed kept on local disk.
type DeviceKey struct {
	seed     []byte
	deviceID string
}

// LoadDeviceKey reads the seed at path, creating it only when the file does not exist.
func LoadDeviceKey(path string) (*DeviceKey, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create seed directory: %w", err)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) == seedSize:
		return NewDeviceKey(data), nil
	case err == nil:
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", ErrBadSeed, path, len(data), seedSize)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read device seed: %w", err)
	}

	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate device seed: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, seed, 0o600); err != nil {
		return nil, fmt.Errorf("write device seed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("save device seed: %w", err)
	}
	return NewDeviceKey(seed), nil
}

// NewDeviceKey builds a key from existing seed bytes.
func NewDeviceKey(seed []byte) *DeviceKey {
	cp := make([]byte, len(seed))
	copy(cp, seed)
	sum := sha256.Sum256(append([]byte("nestling-device-id\x00"), cp...))
	return &DeviceKey{seed: cp, deviceID: "dev-" + hex.EncodeToString(sum[:8])}
}

// DeviceID is a stable identifier that reveals nothing about the seed.
func (k *DeviceKey) DeviceID() string { return k.deviceID }

// Factor derives n bytes bound to purpose with HKDF-SHA256.
func (k *DeviceKey) Factor(purpose string, n int) ([]byte, error) {
	if len(k.seed) == 0 {
		return nil, ErrNoSeed
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.seed, nil, []byte(purpose)), out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", purpose, err)
	}
	return out, nil
}
