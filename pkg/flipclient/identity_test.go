package flipclient

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	saveJSON(store, playerKey("ABCD"), StoredPlayer{GameID: "g1", PlayerID: "p1"})
	stored, ok := loadJSON[StoredPlayer](store, playerKey("ABCD"))
	require.True(t, ok)
	assert.Equal(t, "p1", stored.PlayerID)

	store.Delete(playerKey("ABCD"))
	_, ok = loadJSON[StoredPlayer](store, playerKey("ABCD"))
	assert.False(t, ok)
}

func TestLoadJSONTreatsCorruptionAsMiss(t *testing.T) {
	store := NewMemoryStore()
	store.Set(profileKey, []byte("{not json"))

	_, ok := loadJSON[StoredProfile](store, profileKey)
	assert.False(t, ok)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	store := NewFileStore(path)
	saveJSON(store, sessionKey, StoredSession{Token: "tok", UserID: "u1"})

	reopened := NewFileStore(path)
	session, ok := loadJSON[StoredSession](reopened, sessionKey)
	require.True(t, ok)
	assert.Equal(t, "u1", session.UserID)
}

func TestFileStoreToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("}}garbage"), 0o600))

	store := NewFileStore(path)
	_, ok := store.Get(sessionKey)
	assert.False(t, ok)

	// Still usable for writes.
	saveJSON(store, sessionKey, StoredSession{Token: "tok", UserID: "u1"})
	_, ok = loadJSON[StoredSession](store, sessionKey)
	assert.True(t, ok)
}

type fakeMinter struct {
	failures int
	calls    int
}

func (m *fakeMinter) AnonymousSession() (string, string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", "", errors.New("service unavailable")
	}
	return "tok", "u1", nil
}

func TestEnsureSessionReusesStoredIdentity(t *testing.T) {
	store := NewMemoryStore()
	saveJSON(store, sessionKey, StoredSession{Token: "old", UserID: "u0"})

	minter := &fakeMinter{}
	session, err := EnsureSession(minter, store, nil)
	require.NoError(t, err)
	assert.Equal(t, "u0", session.UserID)
	assert.Zero(t, minter.calls)
}

func TestEnsureSessionMintsAndStores(t *testing.T) {
	store := NewMemoryStore()

	session, err := EnsureSession(&fakeMinter{}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)

	stored, ok := loadJSON[StoredSession](store, sessionKey)
	require.True(t, ok)
	assert.Equal(t, "tok", stored.Token)
}

func TestEnsureSessionRetriesTransientFailures(t *testing.T) {
	store := NewMemoryStore()
	minter := &fakeMinter{failures: 2}

	session, err := EnsureSession(minter, store, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, 3, minter.calls)
}

func TestEnsureSessionGivesUpAfterAttempts(t *testing.T) {
	store := NewMemoryStore()
	minter := &fakeMinter{failures: 10}

	_, err := EnsureSession(minter, store, nil)
	assert.Error(t, err)
	assert.Equal(t, anonAttempts, minter.calls)

	_, ok := store.Get(sessionKey)
	assert.False(t, ok)
}

func TestClearSessionForcesRemint(t *testing.T) {
	store := NewMemoryStore()
	saveJSON(store, sessionKey, StoredSession{Token: "old", UserID: "u0"})

	ClearSession(store)

	minter := &fakeMinter{}
	session, err := EnsureSession(minter, store, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, 1, minter.calls)
}
