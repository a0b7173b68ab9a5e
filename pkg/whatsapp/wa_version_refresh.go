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

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

type WAVersionRefreshStatus struct {
	CurrentVersion string     `json:"current_version"`
	Latest         bool       `json:"latest"`
	LastRefreshed  *time.Time `json:"last_refreshed,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

type versionFetcher func(ctx context.Context, httpClient *http.Client) (*store.WAVersionContainer, error)

// VersionSource resolves the WhatsApp Web version used for the next connect.
// Fetches are deduplicated and throttled by a minimum interval; on failure
// the library's built-in version is used.
type VersionSource struct {
	minInterval      time.Duration
	refreshOnResolve bool
	httpClient       *http.Client
	fetch            versionFetcher

	group singleflight.Group

	mu              sync.RWMutex
	lastRefreshedAt *time.Time
	lastError       string
	latest          bool
}

func NewVersionSource(minInterval time.Duration, refreshOnResolve bool) *VersionSource {
	if minInterval < 0 {
		minInterval = 0
	}
	return &VersionSource{
		minInterval:      minInterval,
		refreshOnResolve: refreshOnResolve,
		httpClient:       &http.Client{Timeout: 15 * time.Second},
		fetch:            whatsmeow.GetLatestVersion,
	}
}

// Resolve returns the version to connect with. A fetch error is returned
// alongside the fallback version and is never fatal.
func (v *VersionSource) Resolve(ctx context.Context) (session.Version, error) {
	var err error
	if v.refreshOnResolve {
		_, _, err = v.Refresh(ctx, false)
	}
	return v.current(), err
}

func (v *VersionSource) current() session.Version {
	current := store.GetWAVersion()

	v.mu.RLock()
	defer v.mu.RUnlock()
	return session.Version{
		Major:  current[0],
		Minor:  current[1],
		Patch:  current[2],
		Latest: v.latest,
	}
}

func (v *VersionSource) Status() WAVersionRefreshStatus {
	version := v.current()

	v.mu.RLock()
	defer v.mu.RUnlock()

	var last *time.Time
	if v.lastRefreshedAt != nil {
		t := *v.lastRefreshedAt
		last = &t
	}

	return WAVersionRefreshStatus{
		CurrentVersion: version.String(),
		Latest:         version.Latest,
		LastRefreshed:  last,
		LastError:      v.lastError,
	}
}

// Refresh fetches the latest WhatsApp Web version and applies it globally via store.SetWAVersion.
// If force=false, it is throttled by the minimum interval. The boolean reports whether a fetch ran.
func (v *VersionSource) Refresh(ctx context.Context, force bool) (WAVersionRefreshStatus, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !force && v.minInterval > 0 {
		v.mu.RLock()
		last := v.lastRefreshedAt
		v.mu.RUnlock()
		if last != nil && time.Since(*last) < v.minInterval {
			return v.Status(), false, nil
		}
	}

	_, err, _ := v.group.Do("refresh", func() (interface{}, error) {
		latest, err := v.fetch(ctx, v.httpClient)
		if err == nil && latest == nil {
			err = errors.New("latest WhatsApp Web version is nil")
		}
		if err != nil {
			v.record(err)
			return nil, err
		}

		store.SetWAVersion(*latest)
		v.record(nil)
		return store.GetWAVersion(), nil
	})
	if err != nil {
		log.Print(nil).WithError(err).Warn("Failed to fetch latest WhatsApp Web version, using " + v.current().String())
		return v.Status(), true, err
	}

	return v.Status(), true, nil
}

// record keeps Latest set after a failed fetch that follows a successful one.
func (v *VersionSource) record(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	v.lastRefreshedAt = &now
	if err != nil {
		v.lastError = err.Error()
		return
	}
	v.lastError = ""
	v.latest = true
}
