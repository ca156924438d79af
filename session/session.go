// Package session holds the client-side credentials attached to outgoing
// requests: the bearer token returned by the backend and the signed-in
// user's profile.
package session

import "sync"

// User is the profile stored alongside the token after sign-in.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Store is the credential storage contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Token returns the bearer token, or "" when signed out.
	Token() string
	// User returns the stored profile.
	User() (User, bool)
	// Save replaces the token and profile.
	Save(token string, u User)
	// Clear removes the token and profile.
	Clear()
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	token   string
	user    User
	hasUser bool
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWithToken returns a Memory store pre-loaded with token, for
// callers that obtained a token out of band.
func NewMemoryWithToken(token string) *Memory {
	return &Memory{token: token}
}

func (m *Memory) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Memory) User() (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user, m.hasUser
}

func (m *Memory) Save(token string, u User) {
	m.mu.Lock()
	m.token, m.user, m.hasUser = token, u, true
	m.mu.Unlock()
}

func (m *Memory) Clear() {
	m.mu.Lock()
	m.token, m.user, m.hasUser = "", User{}, false
	m.mu.Unlock()
}
