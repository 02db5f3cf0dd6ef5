package settings

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/pointrect/pkg/types"
)

// Host channels
const (
	ChannelToggleDevTools = "TOGGLE_DEV_TOOLS"
	ChannelReloadApp      = "RELOAD_APP"
)

// HostBridge sends commands to the hosting shell
type HostBridge interface {
	Send(ctx context.Context, channel string, args ...interface{}) error
}

// LogBridge is a HostBridge that only logs what it is asked to send
type LogBridge struct {
	Logger *zap.SugaredLogger
}

func (b LogBridge) Send(_ context.Context, channel string, args ...interface{}) error {
	if b.Logger != nil {
		b.Logger.Infow("host command", "channel", channel, "args", args)
	}
	return nil
}

// Persister saves settings somewhere durable
type Persister interface {
	Save(s AppSettings) error
}

// Actions are the application settings operations
type Actions struct {
	store   Store
	bridge  HostBridge
	persist Persister
	logger  *zap.SugaredLogger
}

type Option func(*Actions)

func WithPersister(p Persister) Option {
	return func(a *Actions) { a.persist = p }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(a *Actions) { a.logger = logger }
}

// NewActions creates settings actions over a store and host bridge
func NewActions(store Store, bridge HostBridge, opts ...Option) *Actions {
	a := &Actions{store: store, bridge: bridge, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(a)
	}
	if a.bridge == nil {
		a.bridge = LogBridge{Logger: a.logger}
	}
	return a
}

// ToggleDevTools shows or hides the developer tools
func (a *Actions) ToggleDevTools(ctx context.Context, show bool) error {
	if err := a.bridge.Send(ctx, ChannelToggleDevTools, show); err != nil {
		return errors.Wrap(err, "toggle dev tools")
	}
	a.store.Dispatch(Action{Type: ToggleDevToolsSuccess, Payload: show})
	return nil
}

// ReloadApplication asks the host to reload
func (a *Actions) ReloadApplication(ctx context.Context) error {
	if err := a.bridge.Send(ctx, ChannelReloadApp); err != nil {
		return errors.Wrap(err, "reload application")
	}
	a.store.Dispatch(Action{Type: RefreshAppSuccess})
	return nil
}

// SaveAppSettings persists s and makes it the current state
func (a *Actions) SaveAppSettings(_ context.Context, s AppSettings) (AppSettings, error) {
	if a.persist != nil {
		if err := a.persist.Save(s); err != nil {
			return AppSettings{}, errors.Wrap(err, "save app settings")
		}
	}
	a.store.Dispatch(Action{Type: SaveAppSettingsSuccess, Payload: s})
	return s, nil
}

// EnsureSecurityToken makes sure the project's security token exists, creating one for the project if not
func (a *Actions) EnsureSecurityToken(ctx context.Context, project *types.Project) (AppSettings, error) {
	if project == nil {
		return AppSettings{}, errors.New("project is required")
	}
	current := a.store.State()
	if _, ok := current.Token(project.SecurityToken); ok {
		return current, nil
	}
	return a.AddNewSecurityToken(ctx, project.Name)
}

// TokenName is the name given to a generated token for a project
func TokenName(projectName string) string {
	return projectName + " Token"
}

// AddNewSecurityToken generates a token named after the project unless one already exists
func (a *Actions) AddNewSecurityToken(ctx context.Context, projectName string) (AppSettings, error) {
	current := a.store.State()
	for _, name := range []string{projectName, TokenName(projectName)} {
		if _, ok := current.Token(name); ok {
			a.logger.Debugw("security token already exists", "name", name)
			return current, nil
		}
	}

	key, err := GenerateKey()
	if err != nil {
		return AppSettings{}, err
	}
	updated := current.clone()
	updated.SecurityTokens = append(updated.SecurityTokens, SecurityToken{Name: TokenName(projectName), Key: key})

	if _, err := a.SaveAppSettings(ctx, updated); err != nil {
		return AppSettings{}, err
	}
	a.store.Dispatch(Action{Type: EnsureSecurityTokenSuccess, Payload: updated})
	a.logger.Infow("added security token", "name", TokenName(projectName))
	return updated, nil
}

// GenerateKey returns 32 random bytes, base64 encoded
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate key")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
