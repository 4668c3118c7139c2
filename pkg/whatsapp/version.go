package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"
)

const versionRefreshMinInterval = 10 * time.Minute

type VersionStatus struct {
	CurrentVersion store.WAVersionContainer `json:"current_version"`
	LastRefreshed  *time.Time              `json:"last_refreshed,omitempty"`
	LastError      string                  `json:"last_error,omitempty"`
}

// VersionRefresher keeps the WhatsApp Web version used in the handshake current.
// Concurrent refreshes collapse into one request.
type VersionRefresher struct {
	group       singleflight.Group
	httpClient  *http.Client
	minInterval time.Duration
	fetch       func(ctx context.Context, httpClient *http.Client) (*store.WAVersionContainer, error)

	mu            sync.RWMutex
	lastRefreshed *time.Time
	lastError     string
}

func NewVersionRefresher() *VersionRefresher {
	return &VersionRefresher{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		minInterval: versionRefreshMinInterval,
		fetch:       whatsmeow.GetLatestVersion,
	}
}

func (r *VersionRefresher) Status() VersionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	if r.lastRefreshed != nil {
		t := *r.lastRefreshed
		last = &t
	}
	return VersionStatus{
		CurrentVersion: store.GetWAVersion(),
		LastRefreshed:  last,
		LastError:      r.lastError,
	}
}

// Refresh fetches the latest version and applies it globally. Unless force is set, a refresh
// within the minimum interval of the previous one is skipped. The bool reports whether a fetch happened.
func (r *VersionRefresher) Refresh(ctx context.Context, force bool) (VersionStatus, bool, error) {
	if !force && r.minInterval > 0 {
		r.mu.RLock()
		last := r.lastRefreshed
		r.mu.RUnlock()
		if last != nil && time.Since(*last) < r.minInterval {
			return r.Status(), false, nil
		}
	}

	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		latest, err := r.fetch(ctx, r.httpClient)
		if err == nil && latest == nil {
			err = errors.New("latest WhatsApp Web version is nil")
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		now := time.Now()
		r.lastRefreshed = &now
		if err != nil {
			r.lastError = err.Error()
			return nil, err
		}
		r.lastError = ""
		store.SetWAVersion(*latest)
		return store.GetWAVersion(), nil
	})
	return r.Status(), true, err
}
