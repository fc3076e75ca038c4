// Package secrets assembles the cloud credential from fragments that are never stored together.
package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
)

// Build-time fragments, overridable with
// -ldflags "-X github.com/miradorstack/nestling/internal/secrets.Prefix=...".
var (
	Prefix           = "nst_"
	DefaultRemainder = "localdev0000remainder"
)

const (
	remainderKey     = "cloud.credential.remainder"
	encodingVersion  = "v1"
	maskPurpose      = "nestling-remainder-v1"
	tagPurpose       = "nestling-remainder-tag-v1"
	tagSize          = 4
	tagKeySize       = 32
	versionSeparator = "."

	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer "
)

var (
	// ErrResetMismatch reports a reset value that does not carry the installed prefix and middle segment.
	ErrResetMismatch = errors.New("secrets: new credential does not match the installed fragments")
	errCorrupt       = errors.New("secrets: stored remainder is corrupt")
)

// Credential holds an assembled credential in locked memory for a single call.
type Credential struct {
	buf *memguard.LockedBuffer
}

// Empty reports whether there is no usable credential.
func (c *Credential) Empty() bool {
	return c == nil || c.buf == nil || !c.buf.IsAlive() || c.buf.Size() == 0
}

// Bearer returns the Authorization header value. The returned string is an
// ordinary heap copy that Destroy cannot wipe; prefer Authorize.
func (c *Credential) Bearer() string {
	if c.Empty() {
		return ""
	}
	return "Bearer " + string(c.buf.Bytes())
}

// Authorize sets the Authorization header straight from the locked buffer.
// net/http only carries string header values, so one heap copy lives in h until
// the caller deletes the header; callers set it immediately before sending.
func (c *Credential) Authorize(h http.Header) {
	if c.Empty() {
		h.Del(authorizationHeader)
		return
	}
	raw := c.buf.Bytes()
	value := make([]byte, 0, len(bearerScheme)+len(raw))
	value = append(append(value, bearerScheme...), raw...)
	h.Set(authorizationHeader, string(value))
	memguard.WipeBytes(value)
}

// Destroy wipes the credential; it is safe to call more than once.
func (c *Credential) Destroy() {
	if c != nil && c.buf != nil {
		c.buf.Destroy()
	}
}

// NewCredential copies the concatenated parts into locked memory.
func NewCredential(parts ...string) *Credential {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	if size == 0 {
		return &Credential{}
	}
	raw := make([]byte, 0, size)
	for _, p := range parts {
		raw = append(raw, p...)
	}
	return &Credential{buf: memguard.NewBufferFromBytes(raw)}
}

// AssemblerConfig wires the fragment sources.
type AssemblerConfig struct {
	Prefix           string
	DefaultRemainder string
	Store            SecureStore
	Fragments        FragmentSource
	Device           *DeviceKey
	Logger           *slog.Logger
}

// Assembler combines prefix, middle segment and stored remainder with combination rule v1.
// Rule v1: credential = prefix + middle + remainder, where the stored remainder is
// XOR-masked with an HKDF device factor and tagged with an HMAC keyed by the same seed.
type Assembler struct {
	prefix           string
	defaultRemainder string
	store            SecureStore
	fragments        FragmentSource
	device           *DeviceKey
	logger           *slog.Logger
}

// NewAssembler validates the configuration and applies build-time defaults.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if cfg.Store == nil {
		return nil, errors.New("secrets: secure store is required")
	}
	if cfg.Device == nil {
		return nil, errors.New("secrets: device key is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = Prefix
	}
	if cfg.DefaultRemainder == "" {
		cfg.DefaultRemainder = DefaultRemainder
	}
	if cfg.Fragments == nil {
		cfg.Fragments = StaticFragment("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		prefix:           cfg.Prefix,
		defaultRemainder: cfg.DefaultRemainder,
		store:            cfg.Store,
		fragments:        cfg.Fragments,
		device:           cfg.Device,
		logger:           cfg.Logger,
	}, nil
}

// Credential assembles the credential. Fragment failures are logged and the
// default remainder is used, so the result may be degraded but never an error.
// The caller must Destroy the returned credential.
func (a *Assembler) Credential() *Credential {
	middle, err := a.fragments.Middle()
	if err != nil {
		a.logger.Warn("middle credential fragment unavailable", slog.Any("error", err))
		middle = ""
	}
	return NewCredential(a.prefix, middle, a.remainder())
}

func (a *Assembler) remainder() string {
	stored, ok, err := a.store.Get(remainderKey)
	switch {
	case err != nil:
		a.logger.Warn("secure store read failed, using default remainder", slog.Any("error", err))
		return a.defaultRemainder
	case !ok:
		a.seed()
		return a.defaultRemainder
	}

	remainder, err := a.decode(stored)
	if err != nil {
		a.logger.Warn("stored remainder rejected, using default remainder", slog.Any("error", err))
		return a.defaultRemainder
	}
	return remainder
}

func (a *Assembler) seed() {
	encoded, err := a.encode(a.defaultRemainder)
	if err == nil {
		err = a.store.Set(remainderKey, encoded)
	}
	if err != nil {
		a.logger.Warn("seeding default remainder failed", slog.Any("error", err))
		return
	}
	a.logger.Info("seeded default credential remainder")
}

// Reset replaces the stored remainder. newValue must start with the installed prefix and middle segment.
func (a *Assembler) Reset(newValue string) error {
	middle, err := a.fragments.Middle()
	if err != nil {
		a.logger.Warn("middle credential fragment unavailable", slog.Any("error", err))
		middle = ""
	}
	head := a.prefix + middle
	if !strings.HasPrefix(newValue, head) || len(newValue) == len(head) {
		return ErrResetMismatch
	}

	encoded, err := a.encode(newValue[len(head):])
	if err != nil {
		return fmt.Errorf("encode remainder: %w", err)
	}
	if err := a.store.Set(remainderKey, encoded); err != nil {
		a.logger.Error("secure store write failed", slog.Any("error", err))
		return err
	}
	a.logger.Info("credential remainder rotated")
	return nil
}

func (a *Assembler) encode(remainder string) (string, error) {
	mask, err := a.device.Factor(maskPurpose, len(remainder))
	if err != nil {
		return "", err
	}
	tag, err := a.tag([]byte(remainder))
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, tagSize+len(remainder))
	out = append(out, tag...)
	for i := 0; i < len(remainder); i++ {
		out = append(out, remainder[i]^mask[i])
	}
	return encodingVersion + versionSeparator + base64.RawURLEncoding.EncodeToString(out), nil
}

func (a *Assembler) decode(stored string) (string, error) {
	version, body, found := strings.Cut(stored, versionSeparator)
	if !found || version != encodingVersion {
		return "", fmt.Errorf("%w: unsupported version", errCorrupt)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) <= tagSize {
		return "", errCorrupt
	}
	tag, masked := raw[:tagSize], raw[tagSize:]
	mask, err := a.device.Factor(maskPurpose, len(masked))
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(masked))
	for i := range masked {
		plain[i] = masked[i] ^ mask[i]
	}
	want, err := a.tag(plain)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(tag, want) {
		return "", fmt.Errorf("%w: tag mismatch", errCorrupt)
	}
	return string(plain), nil
}

func (a *Assembler) tag(remainder []byte) ([]byte, error) {
	key, err := a.device.Factor(tagPurpose, tagKeySize)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(remainder)
	return mac.Sum(nil)[:tagSize], nil
}
