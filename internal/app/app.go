package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m96-chan/slackentry/internal/config"
	"github.com/m96-chan/slackentry/internal/entry"
	"github.com/m96-chan/slackentry/internal/keyring"
	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/notifications"
	"github.com/m96-chan/slackentry/internal/remote"
	slackclient "github.com/m96-chan/slackentry/internal/slack"
	"github.com/m96-chan/slackentry/internal/store"
)

// openTimeout bounds connecting to a store backend.
const openTimeout = 10 * time.Second

// DialFunc creates the network client of a server from its tokens.
type DialFunc func(ctx context.Context, serverURL string, tokens keyring.Tokens) (remote.Client, error)

// App is the top-level application struct. It owns one store and one client
// per server and implements entry.Registry and entry.SessionHooks.
type App struct {
	Config     *config.Config
	log        *slog.Logger
	notifier   *notifications.Notifier
	expiry     *notifications.Scheduler
	dispatcher *entry.Dispatcher
	dial       DialFunc
	now        func() time.Time

	mu      sync.Mutex
	stores  map[string]*store.Store
	clients map[string]remote.Client
	passes  map[string]*sync.Mutex
}

var (
	_ entry.Registry     = (*App)(nil)
	_ entry.SessionHooks = (*App)(nil)
)

// New creates a new App with the given config.
func New(cfg *config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	notifier := notifications.New(cfg.Notifications.Enabled)
	a := &App{
		Config:     cfg,
		log:        log,
		notifier:   notifier,
		expiry:     notifications.NewScheduler(notifier, log),
		dispatcher: entry.NewDispatcher(cfg.Entry.DeferredTimeout()),
		now:        time.Now,
		stores:     make(map[string]*store.Store),
		clients:    make(map[string]remote.Client),
		passes:     make(map[string]*sync.Mutex),
	}
	a.dial = a.dialSlack
	return a
}

// SetDialer replaces the function that creates network clients.
func (a *App) SetDialer(d DialFunc) { a.dial = d }

func (a *App) dialSlack(ctx context.Context, _ string, tokens keyring.Tokens) (remote.Client, error) {
	s := a.Config.Server
	return slackclient.New(ctx, tokens.User,
		slackclient.WithAppToken(tokens.App),
		slackclient.WithOverrides(slackclient.Overrides{
			PrimaryTeam:               s.PrimaryTeam,
			TeammateNameDisplay:       s.TeammateNameDisplay,
			LockTeammateNameDisplay:   s.LockTeammateNameDisplay,
			ExtendSessionWithActivity: s.ExtendSessionWithActivity,
			SessionLengthHours:        s.SessionLengthHours,
		}),
	)
}

// Client returns the cached client of serverURL, dialing it from the stored
// tokens on first use.
func (a *App) Client(serverURL string) (remote.Client, error) {
	a.mu.Lock()
	c, ok := a.clients[serverURL]
	a.mu.Unlock()
	if ok {
		return c, nil
	}

	tokens, err := keyring.GetTokens(serverURL)
	if err != nil {
		return nil, fmt.Errorf("reading tokens: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	c, err = a.dial(ctx, serverURL, tokens)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.clients[serverURL]; ok {
		return cur, nil
	}
	a.clients[serverURL] = c
	return c, nil
}

// Store returns the local store of serverURL, opening the configured backend
// on first use.
func (a *App) Store(serverURL string) (*store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.stores[serverURL]; ok {
		return st, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	b, err := a.openBackend(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	st := store.New(b)
	a.stores[serverURL] = st
	return st, nil
}

func (a *App) openBackend(ctx context.Context, serverURL string) (store.Backend, error) {
	sc := a.Config.Store
	switch sc.Backend {
	case config.BackendRedis:
		return store.NewRedis(ctx, sc.RedisURL, sc.KeyPrefix+":"+ServerKey(serverURL))
	case config.BackendPostgres:
		return store.OpenPostgres(ctx, sc.DatabaseURL, serverURL)
	default:
		return store.NewMemory(), nil
	}
}

// ServerKey turns a server URL into a compact namespace: scheme and
// trailing slashes are dropped.
func ServerKey(serverURL string) string {
	k := serverURL
	if i := strings.Index(k, "://"); i >= 0 {
		k = k[i+3:]
	}
	return strings.TrimRight(k, "/")
}

// Runtime returns the collaborators shared by every server.
func (a *App) Runtime() entry.Runtime {
	return entry.Runtime{
		Expiry:     a.expiry,
		Session:    a,
		Dispatcher: a.dispatcher,
		Log:        a.log,
		Options: entry.Options{
			PostsPerChannel:   a.Config.Entry.PostsPerChannel,
			MaxUnreadChannels: a.Config.Entry.MaxUnreadChannels,
		},
	}
}

// ForceLogout deletes the tokens of serverURL and drops its cached client.
// The local store is kept so a later login starts warm.
func (a *App) ForceLogout(_ context.Context, serverURL string) {
	if err := keyring.DeleteTokens(serverURL); err != nil {
		a.log.Warn("failed to delete tokens", "server", serverURL, "error", err)
	}
	a.mu.Lock()
	delete(a.clients, serverURL)
	a.mu.Unlock()
	a.expiry.Cancel(serverURL)
	a.notifier.Send("Signed out", "Your session on "+serverURL+" is no longer valid.")
	a.log.Info("logged out", "server", serverURL)
}

// ResolveServer picks the server to work on: the flag value, then the
// configured URL, then the first registered server.
func (a *App) ResolveServer(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if a.Config.Server.URL != "" {
		return a.Config.Server.URL, nil
	}
	s, err := keyring.DefaultServer()
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

func (a *App) passLock(serverURL string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.passes[serverURL]
	if !ok {
		m = &sync.Mutex{}
		a.passes[serverURL] = m
	}
	return m
}

// RunEntry runs one app entry pass for serverURL. Passes of the same server
// never overlap.
func (a *App) RunEntry(ctx context.Context, serverURL string) error {
	lock := a.passLock(serverURL)
	lock.Lock()
	defer lock.Unlock()

	return entry.AppEntry(ctx, a, serverURL).Err
}

// LoginOptions are the inputs of a login run.
type LoginOptions struct {
	ServerURL   string
	Token       string
	AppToken    string
	DeviceToken string
}

// ErrNoToken is returned by Login when no user token was given.
var ErrNoToken = errors.New("a user token is required to log in")

// LoginResult is the outcome of Login. ServerURL is the server that was
// registered, which differs from LoginOptions.ServerURL when that was empty.
type LoginResult struct {
	entry.LoginResult
	ServerURL string
}

// Login validates the token, registers the server, and runs login entry.
func (a *App) Login(ctx context.Context, opts LoginOptions) (LoginResult, error) {
	if opts.Token == "" {
		return LoginResult{}, ErrNoToken
	}
	tokens := keyring.Tokens{User: opts.Token, App: opts.AppToken}

	client, err := a.dial(ctx, opts.ServerURL, tokens)
	if err != nil {
		return LoginResult{}, fmt.Errorf("validating token: %w", err)
	}
	serverURL := opts.ServerURL
	srv := keyring.Server{URL: serverURL}
	if sc, ok := client.(*slackclient.Client); ok {
		if serverURL == "" {
			serverURL = sc.SiteURL
		}
		srv = keyring.Server{URL: serverURL, TeamID: sc.TeamID, Name: sc.TeamName, UserID: sc.UserID}
	}
	if serverURL == "" {
		return LoginResult{}, errors.New("server URL is unknown; pass -server")
	}

	me, err := client.Me(ctx)
	if err != nil {
		return LoginResult{}, fmt.Errorf("fetching user: %w", err)
	}
	srv.UserID = me.ID
	if err := keyring.AddServer(srv, tokens); err != nil {
		return LoginResult{}, fmt.Errorf("storing tokens: %w", err)
	}

	a.mu.Lock()
	a.clients[serverURL] = client
	a.mu.Unlock()

	lock := a.passLock(serverURL)
	lock.Lock()
	defer lock.Unlock()

	res := entry.LoginEntry(ctx, a, entry.LoginArgs{ServerURL: serverURL, User: me, DeviceToken: opts.DeviceToken})
	return LoginResult{LoginResult: res, ServerURL: serverURL}, res.Err
}

// Watch keeps a socket mode connection to serverURL open. Every (re)connect
// runs app entry; every disconnect records when the connection was lost so
// the next pass can fetch incrementally. It blocks until ctx is done.
func (a *App) Watch(ctx context.Context, serverURL string) error {
	c, err := a.Client(serverURL)
	if err != nil {
		return err
	}
	sc, ok := c.(*slackclient.Client)
	if !ok {
		return fmt.Errorf("watch needs a socket mode client, got %T", c)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := &slackclient.EventHandler{
		OnConnected:    func() { go a.onConnected(ctx, serverURL) },
		OnDisconnected: func() { a.onDisconnected(ctx, serverURL) },
		OnError: func(err error) {
			a.log.Error("socket mode error", "server", serverURL, "error", err)
			if remote.IsUnauthorized(err) {
				a.ForceLogout(ctx, serverURL)
				cancel()
			}
		},
	}
	err = sc.RunSocketMode(ctx, handler)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) onConnected(ctx context.Context, serverURL string) {
	err := a.RunEntry(ctx, serverURL)
	if remote.IsUnauthorized(err) {
		a.log.Warn("entry rejected, stopping watch", "server", serverURL)
	}
}

func (a *App) onDisconnected(ctx context.Context, serverURL string) {
	st, err := a.Store(serverURL)
	if err != nil {
		a.log.Warn("cannot record disconnect", "server", serverURL, "error", err)
		return
	}
	at := strconv.FormatInt(a.now().UnixMilli(), 10)
	if err := st.Commit(context.WithoutCancel(ctx), store.SetSystem{Values: []model.SystemValue{
		{ID: model.SystemWebSocket, Value: at},
	}}); err != nil {
		a.log.Warn("cannot record disconnect", "server", serverURL, "error", err)
	}
}

// Close waits for deferred work, disarms reminders and closes every store.
func (a *App) Close() error {
	a.dispatcher.Wait()
	a.expiry.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for url, st := range a.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store for %s: %w", url, err))
		}
		delete(a.stores, url)
	}
	return errors.Join(errs...)
}
