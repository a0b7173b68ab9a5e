// Package auth guards the operator HTTP API.
package auth

import (
	"sync"
	"time"
)

const DefaultTokenTTL = 15 * time.Minute

var (
	mu             sync.RWMutex
	adminSecretKey string
	jwtSecretKey   string
	tokenTTL       = DefaultTokenTTL
)

// Configure installs the admin secret, the JWT signing key and the lifetime
// of issued operator tokens. An empty jwtSecret disables token auth.
func Configure(adminSecret, jwtSecret string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	mu.Lock()
	defer mu.Unlock()
	adminSecretKey = adminSecret
	jwtSecretKey = jwtSecret
	tokenTTL = ttl
}

func secrets() (admin string, signing string, ttl time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	return adminSecretKey, jwtSecretKey, tokenTTL
}
