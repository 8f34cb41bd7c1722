package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
)

// fakeAPI serves Web API methods from handlers keyed by method name.
type fakeAPI struct {
	mu       sync.Mutex
	handlers map[string]func(form url.Values) (int, any)
	calls    map[string]int
	forms    map[string][]url.Values
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{
		handlers: map[string]func(url.Values) (int, any){
			"auth.test": func(url.Values) (int, any) {
				return http.StatusOK, map[string]any{
					"ok": true, "url": "https://acme.slack.com/", "team": "Acme",
					"user": "alice", "team_id": "T1", "user_id": "U1",
				}
			},
			"users.info": func(form url.Values) (int, any) {
				if ids := form.Get("users"); ids != "" {
					var users []map[string]any
					for _, id := range strings.Split(ids, ",") {
						users = append(users, userJSON(id, false))
					}
					return http.StatusOK, map[string]any{"ok": true, "users": users}
				}
				return http.StatusOK, map[string]any{"ok": true, "user": userJSON(form.Get("user"), true)}
			},
			"team.info": func(url.Values) (int, any) {
				return http.StatusOK, map[string]any{"ok": true, "team": map[string]any{"id": "T1", "name": "Acme", "domain": "acme"}}
			},
		},
		calls: map[string]int{},
		forms: map[string][]url.Values{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := strings.TrimPrefix(r.URL.Path, "/")

		f.mu.Lock()
		f.calls[method]++
		f.forms[method] = append(f.forms[method], r.Form)
		h, ok := f.handlers[method]
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unknown_method"})
			return
		}
		status, body := h(r.Form)
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return f, srv.URL + "/"
}

func (f *fakeAPI) handle(method string, h func(url.Values) (int, any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAPI) lastForm(method string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	forms := f.forms[method]
	if len(forms) == 0 {
		return nil
	}
	return forms[len(forms)-1]
}

func userJSON(id string, admin bool) map[string]any {
	return map[string]any{
		"id": id, "name": strings.ToLower(id), "is_admin": admin, "locale": "ja-JP",
		"profile": map[string]any{"first_name": "F" + id, "last_name": "L" + id, "display_name": "d" + id},
	}
}

func apiError(code string) func(url.Values) (int, any) {
	return func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"ok": false, "error": code}
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeAPI) {
	t.Helper()
	f, apiURL := newFakeAPI(t)
	c, err := New(context.Background(), "xoxp-test", append([]Option{WithAPIURL(apiURL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.UnixMilli(5000) }
	return c, f
}

func TestNewPopulatesIdentity(t *testing.T) {
	c, _ := newTestClient(t)
	if c.UserID != "U1" || c.TeamID != "T1" || c.TeamName != "Acme" || c.UserName != "alice" {
		t.Errorf("identity = %+v", c)
	}
	if c.SiteURL != "https://acme.slack.com/" {
		t.Errorf("SiteURL = %q", c.SiteURL)
	}
}

func TestNewRejectsBadAppToken(t *testing.T) {
	_, err := New(context.Background(), "xoxp-test", WithAppToken("xoxb-nope"))
	if err == nil || !strings.Contains(err.Error(), "xapp-") {
		t.Errorf("expected app token error, got %v", err)
	}
}

func TestNewInvalidAuthIsUnauthorized(t *testing.T) {
	f, apiURL := newFakeAPI(t)
	f.handle("auth.test", apiError("invalid_auth"))

	_, err := New(context.Background(), "xoxp-test", WithAPIURL(apiURL))
	if !remote.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestTeamsListsWorkspaces(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("auth.teams.list", func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"ok": true, "teams": []map[string]any{
			{"id": "T1", "name": "Acme", "domain": "acme"},
			{"id": "T2", "name": "Beta Corp", "domain": "beta"},
		}}
	})

	got, err := c.Teams(context.Background())
	if err != nil {
		t.Fatalf("Teams: %v", err)
	}
	if len(got.Teams) != 2 || got.Teams[1].Name != "beta" || got.Teams[1].DisplayName != "Beta Corp" {
		t.Fatalf("teams = %+v", got.Teams)
	}
	if len(got.Memberships) != 2 {
		t.Fatalf("memberships = %+v", got.Memberships)
	}
	m := got.Memberships[0]
	if m.UserID != "U1" || !m.Roles.Has("team_user") || !m.Roles.Has("team_admin") {
		t.Errorf("membership = %+v roles=%v", m, m.Roles.Names())
	}
}

func TestTeamsFallsBackToOwnTeam(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("auth.teams.list", apiError("missing_scope"))

	got, err := c.Teams(context.Background())
	if err != nil {
		t.Fatalf("Teams: %v", err)
	}
	if len(got.Teams) != 1 || got.Teams[0].ID != "T1" {
		t.Errorf("teams = %+v", got.Teams)
	}
	if f.count("team.info") != 1 {
		t.Errorf("team.info calls = %d, want 1", f.count("team.info"))
	}
}

func TestChannelsForTeam(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("conversations.list", func(form url.Values) (int, any) {
		if form.Get("cursor") == "" {
			return http.StatusOK, map[string]any{
				"ok": true,
				"channels": []map[string]any{
					{"id": "C1", "name": "general", "is_channel": true, "is_general": true, "is_member": true, "created": 10},
					{"id": "C2", "name": "random", "is_channel": true, "created": 20, "is_archived": true},
				},
				"response_metadata": map[string]any{"next_cursor": "page2"},
			}
		}
		return http.StatusOK, map[string]any{
			"ok": true,
			"channels": []map[string]any{
				{"id": "D1", "is_im": true, "user": "U2", "last_read": "1.500000"},
				{"id": "G1", "name": "mpdm-a--b", "is_mpim": true, "is_private": true},
				{"id": "P1", "name": "secret", "is_private": true, "is_member": true},
			},
		}
	})

	got, err := c.ChannelsForTeam(context.Background(), "T1", remote.ChannelOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("ChannelsForTeam: %v", err)
	}
	if f.count("conversations.list") != 2 {
		t.Errorf("conversations.list calls = %d, want 2", f.count("conversations.list"))
	}
	form := f.lastForm("conversations.list")
	if form.Get("team_id") != "T1" || form.Get("exclude_archived") != "false" {
		t.Errorf("form = %v", form)
	}
	if form.Get("types") != "public_channel,private_channel,mpim,im" {
		t.Errorf("types = %q", form.Get("types"))
	}

	byID := map[string]model.Channel{}
	for _, ch := range got.Channels {
		if ch.TeamID != "T1" {
			t.Errorf("channel %s team = %q", ch.ID, ch.TeamID)
		}
		byID[ch.ID] = ch
	}
	tests := []struct {
		id       string
		typ      model.ChannelType
		name     string
		deleteAt int64
	}{
		{"C1", model.ChannelOpen, model.DefaultChannelName, 0},
		{"C2", model.ChannelOpen, "random", 5000},
		{"D1", model.ChannelDirect, "D1", 0},
		{"G1", model.ChannelGroup, "mpdm-a--b", 0},
		{"P1", model.ChannelPrivate, "secret", 0},
	}
	for _, tt := range tests {
		ch := byID[tt.id]
		if ch.Type != tt.typ || ch.Name != tt.name || ch.DeleteAt != tt.deleteAt {
			t.Errorf("%s = %+v, want type %s name %s deleteAt %d", tt.id, ch, tt.typ, tt.name, tt.deleteAt)
		}
	}
	if byID["C1"].CreateAt != 10000 || byID["C1"].DisplayName != "general" {
		t.Errorf("C1 = %+v", byID["C1"])
	}

	members := map[string]model.ChannelMembership{}
	for _, m := range got.Memberships {
		members[m.ChannelID] = m
	}
	for _, id := range []string{"C1", "D1", "G1", "P1"} {
		if _, ok := members[id]; !ok {
			t.Errorf("missing membership for %s", id)
		}
	}
	if _, ok := members["C2"]; ok {
		t.Error("non-member channel should have no membership")
	}
	if members["D1"].LastViewedAt != 1500 {
		t.Errorf("D1 last viewed = %d, want 1500", members["D1"].LastViewedAt)
	}
}

func TestChannelsForTeamForbidden(t *testing.T) {
	tests := []struct {
		name    string
		handler func(url.Values) (int, any)
	}{
		{"team access", apiError("team_access_not_granted")},
		{"http 403", func(url.Values) (int, any) { return http.StatusForbidden, map[string]any{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newTestClient(t)
			f.handle("conversations.list", tt.handler)

			_, err := c.ChannelsForTeam(context.Background(), "T9", remote.ChannelOptions{})
			if !remote.IsForbidden(err) {
				t.Errorf("expected forbidden, got %v", err)
			}
		})
	}
}

func TestChannelsForTeamMissingScopeIsNotForbidden(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("conversations.list", apiError("missing_scope"))

	_, err := c.ChannelsForTeam(context.Background(), "T9", remote.ChannelOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if remote.IsForbidden(err) || remote.IsUnauthorized(err) {
		t.Errorf("missing scope must not look like lost membership, got %v", err)
	}
}

func TestPreferencesTeamsOrder(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("auth.teams.list", func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"ok": true, "teams": []map[string]any{
			{"id": "T2", "name": "B"}, {"id": "T1", "name": "A"},
		}}
	})

	prefs, err := c.Preferences(context.Background())
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if got := model.PreferenceValue(prefs, model.PreferenceTeamsOrder, "", ""); got != "T2,T1" {
		t.Errorf("teams_order = %q, want T2,T1", got)
	}
}

func TestMe(t *testing.T) {
	c, _ := newTestClient(t)

	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != "U1" || me.Username != "u1" || me.FirstName != "FU1" || me.Nickname != "dU1" || me.Locale != "ja-JP" {
		t.Errorf("me = %+v", me)
	}
	if !me.Roles.Has("system_user") || !me.Roles.Has("system_admin") {
		t.Errorf("roles = %v", me.Roles.Names())
	}
}

func TestConfigAndLicense(t *testing.T) {
	c, _ := newTestClient(t, WithOverrides(Overrides{
		PrimaryTeam:             "beta",
		TeammateNameDisplay:     model.ShowFullName,
		LockTeammateNameDisplay: true,
		SessionLengthHours:      24,
	}))

	cfg, lic, err := c.ConfigAndLicense(context.Background())
	if err != nil {
		t.Fatalf("ConfigAndLicense: %v", err)
	}
	if cfg.PrimaryTeam() != "beta" || cfg.TeammateNameDisplay() != model.ShowFullName {
		t.Errorf("config = %v", cfg)
	}
	if !cfg.LockTeammateNameDisplay() || !lic.LockTeammateNameDisplay() {
		t.Error("lock should be on in both config and license")
	}
	if cfg.ExtendSessionLengthWithActivity() || cfg.SessionLength() != 24*time.Hour {
		t.Errorf("session settings = %v", cfg)
	}
	if cfg["SiteName"] != "Acme" {
		t.Errorf("SiteName = %q", cfg["SiteName"])
	}
}

func TestRolesByNames(t *testing.T) {
	c, _ := newTestClient(t)

	roles, err := c.RolesByNames(context.Background(), []string{"team_user", "custom_role", "channel_user"})
	if err != nil {
		t.Fatalf("RolesByNames: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("roles = %+v, want 2", roles)
	}
	if !model.HasPermission(roles, model.PermissionJoinPublicChannels) {
		t.Error("team_user should grant join_public_channels")
	}
}

func TestPostsForChannel(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("conversations.history", func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"ok": true, "messages": []map[string]any{
			{"type": "message", "user": "U2", "text": "hi", "ts": "1700000000.123456"},
		}}
	})

	posts, err := c.PostsForChannel(context.Background(), "C1", 1500, 30)
	if err != nil {
		t.Fatalf("PostsForChannel: %v", err)
	}
	form := f.lastForm("conversations.history")
	if form.Get("oldest") != "1.500000" || form.Get("limit") != "30" || form.Get("channel") != "C1" {
		t.Errorf("form = %v", form)
	}
	if len(posts) != 1 {
		t.Fatalf("posts = %+v", posts)
	}
	p := posts[0]
	if p.ID != "1700000000.123456" || p.ChannelID != "C1" || p.UserID != "U2" || p.CreateAt != 1700000000123 {
		t.Errorf("post = %+v", p)
	}
}

func TestPostsForChannelRetriesRateLimit(t *testing.T) {
	c, f := newTestClient(t)
	var n int
	f.handle("conversations.history", func(url.Values) (int, any) {
		n++
		if n == 1 {
			return http.StatusTooManyRequests, map[string]any{"ok": false, "error": "ratelimited"}
		}
		return http.StatusOK, map[string]any{"ok": true, "messages": []map[string]any{}}
	})

	if _, err := c.PostsForChannel(context.Background(), "C1", 0, 10); err != nil {
		t.Fatalf("PostsForChannel: %v", err)
	}
	if f.count("conversations.history") != 2 {
		t.Errorf("calls = %d, want 2", f.count("conversations.history"))
	}
}

func TestProfilesForChannels(t *testing.T) {
	c, f := newTestClient(t)
	f.handle("conversations.members", func(form url.Values) (int, any) {
		members := map[string][]string{"D1": {"U1", "U2"}, "G1": {"U1", "U2", "U3"}}[form.Get("channel")]
		return http.StatusOK, map[string]any{"ok": true, "members": members}
	})

	got, err := c.ProfilesForChannels(context.Background(), []string{"D1", "G1"})
	if err != nil {
		t.Fatalf("ProfilesForChannels: %v", err)
	}
	if len(got["D1"]) != 2 || len(got["G1"]) != 3 {
		t.Errorf("profiles = %+v", got)
	}
	if got["G1"][2].ID != "U3" || got["G1"][2].LastName != "LU3" {
		t.Errorf("G1 third member = %+v", got["G1"][2])
	}
}

func TestAttachDeviceUnsupported(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.AttachDevice(context.Background(), ""); err != nil {
		t.Errorf("empty token should be a no-op, got %v", err)
	}
	if err := c.AttachDevice(context.Background(), "dev"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want remote.Kind
	}{
		{"team access", slack.SlackErrorResponse{Err: "team_access_not_granted"}, remote.KindForbidden},
		{"not in channel", errors.New("not_in_channel"), remote.KindForbidden},
		{"missing scope", slack.SlackErrorResponse{Err: "missing_scope"}, remote.KindUnknown},
		{"access denied", errors.New("access_denied"), remote.KindUnknown},
		{"invalid auth", slack.SlackErrorResponse{Err: "invalid_auth"}, remote.KindUnauthorized},
		{"revoked", errors.New("token_revoked"), remote.KindUnauthorized},
		{"not found", slack.SlackErrorResponse{Err: "channel_not_found"}, remote.KindNotFound},
		{"403", slack.StatusCodeError{Code: 403, Status: "403 Forbidden"}, remote.KindForbidden},
		{"401", slack.StatusCodeError{Code: 401, Status: "401 Unauthorized"}, remote.KindUnauthorized},
		{"502", slack.StatusCodeError{Code: 502, Status: "502 Bad Gateway"}, remote.KindTransient},
		{"418", slack.StatusCodeError{Code: 418, Status: "418"}, remote.KindUnknown},
		{"rate limited", &slack.RateLimitedError{RetryAfter: time.Second}, remote.KindTransient},
		{"deadline", context.DeadlineExceeded, remote.KindTransient},
		{"other", errors.New("boom"), remote.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kindOf(tt.err); got != tt.want {
				t.Errorf("kindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	inner := remote.NewError(remote.KindForbidden, "channels_for_team", nil)
	if got := classify("teams", inner); got != inner {
		t.Errorf("classify rewrapped an already classified error: %v", got)
	}
	if classify("teams", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestTimestampConversion(t *testing.T) {
	tests := []struct {
		ts string
		ms int64
	}{
		{"1700000000.123456", 1700000000123},
		{"1.5", 1500},
		{"42", 42000},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := tsMillis(tt.ts); got != tt.ms {
			t.Errorf("tsMillis(%q) = %d, want %d", tt.ts, got, tt.ms)
		}
	}
	if got := msToTS(1700000000123); got != "1700000000.123000" {
		t.Errorf("msToTS = %q", got)
	}
	if got := tsMillis(msToTS(98765)); got != 98765 {
		t.Errorf("round trip = %d", got)
	}
}
