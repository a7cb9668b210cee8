// Package securestore holds the single-slot refresh-token store. The slot
// is the only place a refresh token may rest: process memory for native
// platforms, an HttpOnly cookie for web.
package securestore

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrEmpty reports that no token is currently stored.
var ErrEmpty = errors.New("securestore: empty slot")

// Slot stores at most one refresh token.
type Slot interface {
	Set(ctx context.Context, token string) error
	Get(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Memory is the in-process slot used on ios/android profiles and in tests.
type Memory struct {
	mu    sync.RWMutex
	token string
	set   bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Set(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.set = true
	return nil
}

func (m *Memory) Get(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return "", ErrEmpty
	}
	return m.token, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}

// Cookie adapts the slot to an HttpOnly+Secure cookie for one request.
// The transport layer constructs one per request on the web platform.
type Cookie struct {
	name string
	w    http.ResponseWriter
	r    *http.Request
}

func NewCookie(name string, w http.ResponseWriter, r *http.Request) *Cookie {
	return &Cookie{name: name, w: w, r: r}
}

func (c *Cookie) Set(_ context.Context, token string) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *Cookie) Get(_ context.Context) (string, error) {
	cookie, err := c.r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", ErrEmpty
	}
	return cookie.Value, nil
}

func (c *Cookie) Clear(_ context.Context) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/auth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	return nil
}
