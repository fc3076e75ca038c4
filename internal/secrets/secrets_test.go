package secrets

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/nestling/internal/storage"
)

type failingStore struct{}

func (failingStore) Get(string) (string, bool, error) { return "", false, errors.New("keychain locked") }
func (failingStore) Set(string, string) error         { return errors.New("keychain locked") }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAssembler(t *testing.T, store SecureStore, seed byte) *Assembler {
	t.Helper()
	a, err := NewAssembler(AssemblerConfig{
		Prefix:           "pre_",
		DefaultRemainder: "fallback",
		Store:            store,
		Fragments:        StaticFragment("mid_"),
		Device:           NewDeviceKey(bytes.Repeat([]byte{seed}, seedSize)),
		Logger:           quietLogger(),
	})
	require.NoError(t, err)
	return a
}

func badgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBadgerStore(db)
}

func bearer(a *Assembler) string {
	c := a.Credential()
	defer c.Destroy()
	return c.Bearer()
}

func TestCredentialFirstRunSeedsDefault(t *testing.T) {
	store := badgerStore(t)
	a := newTestAssembler(t, store, 1)

	assert.Equal(t, "Bearer pre_mid_fallback", bearer(a))

	stored, ok, err := store.Get(remainderKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(stored, "v1."))
	assert.NotContains(t, stored, "fallback")
}

func TestCredentialResetPersistsRemainderOnly(t *testing.T) {
	store := badgerStore(t)
	a := newTestAssembler(t, store, 1)

	require.NoError(t, a.Reset("pre_mid_rotated-secret"))
	assert.Equal(t, "Bearer pre_mid_rotated-secret", bearer(a))

	stored, _, err := store.Get(remainderKey)
	require.NoError(t, err)
	assert.NotContains(t, stored, "rotated")
	assert.NotContains(t, stored, "pre_")

	assert.ErrorIs(t, a.Reset("other_mid_value"), ErrResetMismatch)
	assert.ErrorIs(t, a.Reset("pre_mid_"), ErrResetMismatch)
	assert.Equal(t, "Bearer pre_mid_rotated-secret", bearer(a))
}

func TestCredentialStoreFailureDegrades(t *testing.T) {
	a := newTestAssembler(t, failingStore{}, 1)
	assert.Equal(t, "Bearer pre_mid_fallback", bearer(a))
	assert.Error(t, a.Reset("pre_mid_new"))
}

func TestCredentialRejectsForeignOrTamperedRemainder(t *testing.T) {
	store := badgerStore(t)
	require.NoError(t, newTestAssembler(t, store, 1).Reset("pre_mid_device-one"))

	other := newTestAssembler(t, store, 2)
	assert.Equal(t, "Bearer pre_mid_fallback", bearer(other))

	require.NoError(t, store.Set(remainderKey, "v1.!!notbase64"))
	assert.Equal(t, "Bearer pre_mid_fallback", bearer(newTestAssembler(t, store, 1)))

	require.NoError(t, store.Set(remainderKey, "v2.AAAAAAAA"))
	assert.Equal(t, "Bearer pre_mid_fallback", bearer(newTestAssembler(t, store, 1)))
}

func TestCredentialMissingMiddleFragment(t *testing.T) {
	a, err := NewAssembler(AssemblerConfig{
		Prefix:           "pre_",
		DefaultRemainder: "fallback",
		Store:            badgerStore(t),
		Fragments:        FileFragment{Path: filepath.Join(t.TempDir(), "absent")},
		Device:           NewDeviceKey(bytes.Repeat([]byte{3}, seedSize)),
		Logger:           quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer pre_fallback", bearer(a))
}

func TestCredentialDestroy(t *testing.T) {
	c := NewCredential("abc", "def")
	assert.False(t, c.Empty())
	assert.Equal(t, "Bearer abcdef", c.Bearer())
	c.Destroy()
	c.Destroy()
	assert.True(t, c.Empty())
	assert.Equal(t, "", c.Bearer())

	assert.True(t, NewCredential("", "").Empty())
}

func TestCredentialAuthorizeSetsHeaderFromLockedBuffer(t *testing.T) {
	h := http.Header{}
	c := NewCredential("nst_", "mid", "rest")
	c.Authorize(h)
	assert.Equal(t, "Bearer nst_midrest", h.Get("Authorization"))

	c.Destroy()
	c.Authorize(h)
	assert.Empty(t, h.Get("Authorization"))
}

func TestFileFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "middle.txt")
	require.NoError(t, os.WriteFile(path, []byte("  segment\n"), 0o600))
	middle, err := FileFragment{Path: path}.Middle()
	require.NoError(t, err)
	assert.Equal(t, "segment", middle)
}

func TestLoadDeviceKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "device.seed")
	first, err := LoadDeviceKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadDeviceKey(path)
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID(), second.DeviceID())

	f1, err := first.Factor("purpose", 16)
	require.NoError(t, err)
	f2, err := second.Factor("purpose", 16)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)

	f3, err := first.Factor("other", 16)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f3)

	_, err = (&DeviceKey{}).Factor("purpose", 16)
	assert.ErrorIs(t, err, ErrNoSeed)
}

func TestLoadDeviceKeyKeepsUnreadableSeed(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.seed")
	require.NoError(t, os.WriteFile(short, []byte("too-short"), 0o600))
	_, err := LoadDeviceKey(short)
	assert.ErrorIs(t, err, ErrBadSeed)
	data, err := os.ReadFile(short)
	require.NoError(t, err)
	assert.Equal(t, []byte("too-short"), data)

	unreadable := filepath.Join(dir, "seed-dir")
	require.NoError(t, os.Mkdir(unreadable, 0o700))
	_, err = LoadDeviceKey(unreadable)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBadSeed))
	info, err := os.Stat(unreadable)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
