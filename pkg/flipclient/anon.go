package flipclient

import (
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// SessionMinter issues anonymous credentials; satisfied by *Client.
type SessionMinter interface {
	AnonymousSession() (token, userID string, err error)
}

// StoredSession is the persisted anonymous identity.
type StoredSession struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

const (
	anonAttempts     = 3
	anonBaseDelay    = 500 * time.Millisecond
	anonMaxDelay     = 2500 * time.Millisecond
	anonJitterWindow = 250 * time.Millisecond
	anonBudget       = 8 * time.Second
)

// EnsureSession returns a usable anonymous identity: the stored one when
// present, otherwise a freshly minted one, retried with capped exponential
// backoff under an overall deadline. The jitter spreads a lobby full of
// clients reloading at once.
func EnsureSession(minter SessionMinter, store Store, logger *zap.Logger) (StoredSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if stored, ok := loadJSON[StoredSession](store, sessionKey); ok && stored.Token != "" && stored.UserID != "" {
		return stored, nil
	}

	deadline := time.Now().Add(anonBudget)
	var lastErr error
	for attempt := 1; attempt <= anonAttempts; attempt++ {
		token, userID, err := minter.AnonymousSession()
		if err == nil {
			session := StoredSession{Token: token, UserID: userID}
			saveJSON(store, sessionKey, session)
			return session, nil
		}
		lastErr = err
		logger.Warn("anonymous session attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))

		if attempt == anonAttempts {
			break
		}
		delay := anonBaseDelay << (attempt - 1)
		if delay > anonMaxDelay {
			delay = anonMaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(anonJitterWindow)))
		if time.Now().Add(delay).After(deadline) {
			break
		}
		time.Sleep(delay)
	}
	if lastErr == nil {
		lastErr = errors.New("anonymous session unavailable")
	}
	return StoredSession{}, lastErr
}

// ClearSession drops the stored identity, forcing a fresh mint next time.
func ClearSession(store Store) {
	store.Delete(sessionKey)
}
