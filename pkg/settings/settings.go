package settings

import (
	"sync"

	"github.com/samber/lo"
)

// ActionType names a settings state transition
type ActionType string

const (
	ToggleDevToolsSuccess      ActionType = "TOGGLE_DEV_TOOLS_SUCCESS"
	RefreshAppSuccess          ActionType = "REFRESH_APP_SUCCESS"
	SaveAppSettingsSuccess     ActionType = "SAVE_APP_SETTINGS_SUCCESS"
	EnsureSecurityTokenSuccess ActionType = "ENSURE_SECURITY_TOKEN_SUCCESS"
)

// Action is a dispatched transition with its payload.
// Payload is a bool for ToggleDevToolsSuccess, AppSettings for the save and token actions, nil otherwise.
type Action struct {
	Type    ActionType
	Payload interface{}
}

// SecurityToken is a named key used to protect project secrets
type SecurityToken struct {
	Name string `yaml:"name" json:"name"`
	Key  string `yaml:"key" json:"key"`
}

// AppSettings is the application-wide settings state
type AppSettings struct {
	DevToolsEnabled bool            `yaml:"devToolsEnabled" json:"devToolsEnabled"`
	SecurityTokens  []SecurityToken `yaml:"securityTokens" json:"securityTokens"`
}

// Token returns the token with the given name
func (s AppSettings) Token(name string) (SecurityToken, bool) {
	return lo.Find(s.SecurityTokens, func(t SecurityToken) bool { return t.Name == name })
}

func (s AppSettings) clone() AppSettings {
	out := s
	out.SecurityTokens = append([]SecurityToken(nil), s.SecurityTokens...)
	return out
}

// Reduce applies an action to a settings state
func Reduce(state AppSettings, action Action) AppSettings {
	switch action.Type {
	case ToggleDevToolsSuccess:
		if show, ok := action.Payload.(bool); ok {
			state = state.clone()
			state.DevToolsEnabled = show
		}
	case SaveAppSettingsSuccess, EnsureSecurityTokenSuccess:
		if s, ok := action.Payload.(AppSettings); ok {
			state = s.clone()
		}
	}
	return state
}

// Store holds settings state and receives dispatched actions
type Store interface {
	State() AppSettings
	Dispatch(action Action)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu          sync.RWMutex
	state       AppSettings
	subscribers []func(Action, AppSettings)
}

// NewMemoryStore creates a store starting from initial
func NewMemoryStore(initial AppSettings) *MemoryStore {
	return &MemoryStore{state: initial.clone()}
}

func (s *MemoryStore) State() AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *MemoryStore) Dispatch(action Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	state := s.state.clone()
	subs := make([]func(Action, AppSettings), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(action, state)
	}
}

// Subscribe registers fn to run after every dispatch
func (s *MemoryStore) Subscribe(fn func(Action, AppSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}
