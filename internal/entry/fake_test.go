package entry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/store"
)

const testServer = "https://chat.example.com"

var errForbidden = remote.NewError(remote.KindForbidden, "channels", errors.New("team_access_not_granted"))

// fakeClient is a scriptable remote.Client that records every call.
type fakeClient struct {
	mu    sync.Mutex
	calls []string

	teams    *remote.TeamsPayload
	teamsErr error

	channels    map[string]*remote.ChannelsPayload
	channelErrs map[string]error
	channelOpts map[string]remote.ChannelOptions
	panicOnCh   bool

	prefs    []model.Preference
	prefsErr error

	me    *model.User
	meErr error

	cfg    model.Config
	lic    model.License
	cfgErr error

	roles        map[string]model.Role
	rolesErr     error
	roleRequests [][]string

	posts     map[string][]model.Post
	profiles  map[string][]model.User
	attachErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		teams:       &remote.TeamsPayload{},
		channels:    make(map[string]*remote.ChannelsPayload),
		channelErrs: make(map[string]error),
		channelOpts: make(map[string]remote.ChannelOptions),
		roles:       make(map[string]model.Role),
		posts:       make(map[string][]model.Post),
		profiles:    make(map[string][]model.User),
		me:          &model.User{ID: "me", Username: "me", Locale: "en", Roles: model.NewRoleSet("system_user")},
		cfg:         model.Config{},
		lic:         model.License{},
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeClient) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.calls, call)
}

func (f *fakeClient) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// addTeam registers a team with a membership and its channels.
func (f *fakeClient) addTeam(id string, channels ...model.Channel) {
	f.teams.Teams = append(f.teams.Teams, model.Team{ID: id, Name: id, DisplayName: id})
	f.teams.Memberships = append(f.teams.Memberships, model.TeamMembership{TeamID: id, UserID: "me", Roles: model.NewRoleSet("team_user")})
	payload := &remote.ChannelsPayload{}
	for _, ch := range channels {
		ch.TeamID = id
		payload.Channels = append(payload.Channels, ch)
		payload.Memberships = append(payload.Memberships, model.ChannelMembership{ChannelID: ch.ID, UserID: "me", Roles: model.NewRoleSet("channel_user")})
	}
	f.channels[id] = payload
}

func (f *fakeClient) Teams(context.Context) (*remote.TeamsPayload, error) {
	f.record("teams")
	if f.teamsErr != nil {
		return nil, f.teamsErr
	}
	return &remote.TeamsPayload{
		Teams:       slices.Clone(f.teams.Teams),
		Memberships: slices.Clone(f.teams.Memberships),
		Unreads:     slices.Clone(f.teams.Unreads),
	}, nil
}

func (f *fakeClient) ChannelsForTeam(_ context.Context, teamID string, opts remote.ChannelOptions) (*remote.ChannelsPayload, error) {
	f.record("channels:" + teamID)
	if f.panicOnCh {
		panic("channels exploded")
	}
	f.mu.Lock()
	f.channelOpts[teamID] = opts
	f.mu.Unlock()
	if err := f.channelErrs[teamID]; err != nil {
		return nil, err
	}
	p := f.channels[teamID]
	if p == nil {
		return &remote.ChannelsPayload{}, nil
	}
	return &remote.ChannelsPayload{Channels: slices.Clone(p.Channels), Memberships: slices.Clone(p.Memberships)}, nil
}

func (f *fakeClient) Preferences(context.Context) ([]model.Preference, error) {
	f.record("preferences")
	return slices.Clone(f.prefs), f.prefsErr
}

func (f *fakeClient) Me(context.Context) (*model.User, error) {
	f.record("me")
	if f.meErr != nil {
		return nil, f.meErr
	}
	u := *f.me
	return &u, nil
}

func (f *fakeClient) ConfigAndLicense(context.Context) (model.Config, model.License, error) {
	f.record("config")
	if f.cfgErr != nil {
		return nil, nil, f.cfgErr
	}
	return f.cfg, f.lic, nil
}

func (f *fakeClient) RolesByNames(_ context.Context, names []string) ([]model.Role, error) {
	f.record("roles")
	f.mu.Lock()
	f.roleRequests = append(f.roleRequests, slices.Clone(names))
	f.mu.Unlock()
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	var out []model.Role
	for _, n := range names {
		r, ok := f.roles[n]
		if !ok {
			r = model.Role{ID: n, Name: n}
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeClient) PostsForChannel(_ context.Context, channelID string, _ int64, _ int) ([]model.Post, error) {
	f.record("posts:" + channelID)
	return f.posts[channelID], nil
}

func (f *fakeClient) ProfilesForChannels(_ context.Context, ids []string) (map[string][]model.User, error) {
	f.record(fmt.Sprintf("profiles:%d", len(ids)))
	return f.profiles, nil
}

func (f *fakeClient) AttachDevice(context.Context, string) error {
	f.record("attach")
	return f.attachErr
}

// recordingBackend records the writes of every Apply and can be told to fail.
type recordingBackend struct {
	*store.Memory
	mu      sync.Mutex
	applies [][]store.Write
	failIf  func([]store.Write) bool
}

func (r *recordingBackend) Apply(ctx context.Context, writes []store.Write) error {
	if r.failIf != nil && r.failIf(writes) {
		return errors.New("disk full")
	}
	if err := r.Memory.Apply(ctx, writes); err != nil {
		return err
	}
	r.mu.Lock()
	r.applies = append(r.applies, slices.Clone(writes))
	r.mu.Unlock()
	return nil
}

func (r *recordingBackend) snapshot() [][]store.Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.applies)
}

type fakeSession struct {
	mu      sync.Mutex
	logouts []string
}

func (s *fakeSession) ForceLogout(_ context.Context, serverURL string) {
	s.mu.Lock()
	s.logouts = append(s.logouts, serverURL)
	s.mu.Unlock()
}

type fakeExpiry struct {
	mu  sync.Mutex
	ats []time.Time
}

func (e *fakeExpiry) ScheduleExpiry(_ string, at time.Time) {
	e.mu.Lock()
	e.ats = append(e.ats, at)
	e.mu.Unlock()
}

type fakeRegistry struct {
	client     *fakeClient
	backend    *recordingBackend
	store      *store.Store
	session    *fakeSession
	expiry     *fakeExpiry
	dispatcher *Dispatcher
	noStore    bool
	noClient   bool
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	backend := &recordingBackend{Memory: store.NewMemory()}
	reg := &fakeRegistry{
		client:     newFakeClient(),
		backend:    backend,
		store:      store.New(backend),
		session:    &fakeSession{},
		expiry:     &fakeExpiry{},
		dispatcher: NewDispatcher(5 * time.Second),
	}
	t.Cleanup(reg.dispatcher.Wait)
	return reg
}

func (r *fakeRegistry) Client(string) (remote.Client, error) {
	if r.noClient {
		return nil, errors.New("no token")
	}
	return r.client, nil
}

func (r *fakeRegistry) Store(string) (*store.Store, error) {
	if r.noStore {
		return nil, errors.New("not opened")
	}
	return r.store, nil
}

func (r *fakeRegistry) Runtime() Runtime {
	return Runtime{
		Expiry:     r.expiry,
		Session:    r.session,
		Dispatcher: r.dispatcher,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options:    Options{PostsPerChannel: 30, MaxUnreadChannels: 2},
	}
}

func (r *fakeRegistry) server(t *testing.T) *Server {
	t.Helper()
	srv, err := Resolve(r, testServer, "test")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return srv
}

// seed stores teams with channels and sets the current team and channel.
func (r *fakeRegistry) seed(t *testing.T, currentTeam, currentChannel string, teams map[string][]string) {
	t.Helper()
	ctx := context.Background()
	var ops []store.Op
	for teamID, channelIDs := range teams {
		ops = append(ops, store.UpsertTeams{
			Teams:       []model.Team{{ID: teamID, Name: teamID}},
			Memberships: []model.TeamMembership{{TeamID: teamID}},
		})
		op := store.UpsertChannels{TeamID: teamID}
		for _, id := range channelIDs {
			op.Channels = append(op.Channels, model.Channel{ID: id, TeamID: teamID, Type: model.ChannelOpen, Name: id})
			op.Memberships = append(op.Memberships, model.ChannelMembership{ChannelID: id})
		}
		ops = append(ops, op)
	}
	ops = append(ops, store.SetSystem{Values: []model.SystemValue{
		{ID: model.SystemCurrentTeamID, Value: currentTeam},
		{ID: model.SystemCurrentChannelID, Value: currentChannel},
	}})
	if err := r.store.Commit(ctx, ops...); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r.backend.mu.Lock()
	r.backend.applies = nil
	r.backend.mu.Unlock()
}

func openChannel(id string) model.Channel {
	return model.Channel{ID: id, Type: model.ChannelOpen, Name: id, DisplayName: id}
}

func townSquare(id string) model.Channel {
	return model.Channel{ID: id, Type: model.ChannelOpen, Name: model.DefaultChannelName, DisplayName: "Town Square"}
}
