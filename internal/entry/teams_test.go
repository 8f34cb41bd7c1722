package entry

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/store"
)

func TestSwitchTeamsSkipsForbidden(t *testing.T) {
	reg := newFakeRegistry(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		reg.client.addTeam(id, townSquare(id+"-ts"))
	}
	reg.client.channelErrs["A"] = errForbidden
	reg.client.channelErrs["B"] = errForbidden
	srv := reg.server(t)

	res := SwitchTeams(context.Background(), srv, []string{"A", "B", "C", "D"}, []string{"P"}, remote.ChannelOptions{FetchOnly: true})

	if res.InitialTeamID != "C" {
		t.Errorf("InitialTeamID = %q, want C", res.InitialTeamID)
	}
	for _, id := range []string{"P", "A", "B"} {
		if !slices.Contains(res.RemoveTeamIDs, id) {
			t.Errorf("RemoveTeamIDs = %v, missing %s", res.RemoveTeamIDs, id)
		}
	}
	if res.Channels == nil || len(res.Channels.Channels) != 1 {
		t.Errorf("Channels = %+v, want C's channels", res.Channels)
	}
	if reg.client.called("channels:D") {
		t.Error("D must not be tried after C succeeded")
	}
}

func TestSwitchTeamsNonForbiddenErrorWins(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.client.channelErrs["A"] = remote.NewError(remote.KindTransient, "channels", errors.New("timeout"))
	srv := reg.server(t)

	res := SwitchTeams(context.Background(), srv, []string{"A", "B"}, nil, remote.ChannelOptions{FetchOnly: true})
	if res.InitialTeamID != "A" {
		t.Errorf("InitialTeamID = %q, want A", res.InitialTeamID)
	}
	if res.Channels == nil || res.Channels.Err == nil {
		t.Errorf("winner should carry its error, got %+v", res.Channels)
	}
	if len(res.RemoveTeamIDs) != 0 {
		t.Errorf("RemoveTeamIDs = %v, want none", res.RemoveTeamIDs)
	}
	if reg.client.called("channels:B") {
		t.Error("B must not be tried")
	}
}

func TestSwitchTeamsNoWinner(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.client.channelErrs["A"] = errForbidden
	reg.client.channelErrs["B"] = errForbidden
	srv := reg.server(t)

	res := SwitchTeams(context.Background(), srv, []string{"A", "B"}, nil, remote.ChannelOptions{FetchOnly: true})
	if res.InitialTeamID != "" || res.Channels != nil {
		t.Errorf("expected no winner, got %q %+v", res.InitialTeamID, res.Channels)
	}
	if !slices.Equal(res.RemoveTeamIDs, []string{"A", "B"}) {
		t.Errorf("RemoveTeamIDs = %v, want [A B]", res.RemoveTeamIDs)
	}
}

func TestFetchMyChannelsPersistsUnlessFetchOnly(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry(t)
	reg.client.addTeam("t1", townSquare("ts"))
	srv := reg.server(t)

	fetchMyChannels(ctx, srv, "t1", remote.ChannelOptions{FetchOnly: true})
	if chs, _ := reg.store.ChannelsForTeam(ctx, "t1"); len(chs) != 0 {
		t.Fatalf("fetch-only must not write, got %v", chs)
	}

	data := fetchMyChannels(ctx, srv, "t1", remote.ChannelOptions{})
	if data.Err != nil {
		t.Fatalf("fetch: %v", data.Err)
	}
	if chs, _ := reg.store.ChannelsForTeam(ctx, "t1"); len(chs) != 1 {
		t.Errorf("channels should be stored, got %v", chs)
	}
}

func TestAvailableTeamIDs(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry(t)
	reg.seed(t, "", "", map[string][]string{"t1": nil, "t2": nil, "t3": nil})
	srv := reg.server(t)

	t.Run("cached teams without known list", func(t *testing.T) {
		ids, err := AvailableTeamIDs(ctx, srv, nil, nil, "", "t2")
		if err != nil {
			t.Fatalf("AvailableTeamIDs: %v", err)
		}
		if !slices.Equal(ids, []string{"t1", "t3"}) {
			t.Errorf("ids = %v, want [t1 t3]", ids)
		}
	})

	known := []model.Team{
		{ID: "t1", Name: "one", DisplayName: "Bravo"},
		{ID: "t2", Name: "two", DisplayName: "Alpha"},
	}
	t.Run("default team from known list", func(t *testing.T) {
		ids, err := AvailableTeamIDs(ctx, srv, known, []model.Preference{}, "en", "")
		if err != nil {
			t.Fatalf("AvailableTeamIDs: %v", err)
		}
		if !slices.Equal(ids, []string{"t2"}) {
			t.Errorf("ids = %v, want [t2]", ids)
		}
	})
	t.Run("excluded team never selected", func(t *testing.T) {
		ids, err := AvailableTeamIDs(ctx, srv, known, []model.Preference{}, "en", "t2")
		if err != nil {
			t.Fatalf("AvailableTeamIDs: %v", err)
		}
		if !slices.Equal(ids, []string{"t1"}) {
			t.Errorf("ids = %v, want [t1]", ids)
		}
	})
	t.Run("stored team order when prefs unavailable", func(t *testing.T) {
		err := reg.store.Commit(ctx, store.UpsertPreferences{Preferences: []model.Preference{
			{Category: model.PreferenceTeamsOrder, Value: "t1,t2"},
		}})
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		ids, err := AvailableTeamIDs(ctx, srv, known, nil, "", "")
		if err != nil {
			t.Fatalf("AvailableTeamIDs: %v", err)
		}
		if !slices.Equal(ids, []string{"t1"}) {
			t.Errorf("ids = %v, want [t1]", ids)
		}
	})
	t.Run("primary team from stored config", func(t *testing.T) {
		cfg, _ := store.SystemJSON(model.SystemConfig, model.Config{"ExperimentalPrimaryTeam": "TWO"})
		if err := reg.store.Commit(ctx, store.SetSystem{Values: []model.SystemValue{cfg}}); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		ids, err := AvailableTeamIDs(ctx, srv, known, nil, "", "")
		if err != nil {
			t.Fatalf("AvailableTeamIDs: %v", err)
		}
		if !slices.Equal(ids, []string{"t2"}) {
			t.Errorf("ids = %v, want [t2]", ids)
		}
	})
}
