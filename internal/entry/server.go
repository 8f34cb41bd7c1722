// Package entry reconciles the local store with the server when a session
// resumes (app entry) or a user has just signed in (login entry).
package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/store"
)

var (
	// ErrDatabaseNotFound means no local store is registered for the server.
	ErrDatabaseNotFound = errors.New("database not found")
	// ErrClientNotFound means no network client is registered for the server.
	ErrClientNotFound = errors.New("client not found")
)

// ExpiryScheduler schedules a local notification for when a session ends.
type ExpiryScheduler interface {
	ScheduleExpiry(serverURL string, at time.Time)
}

// SessionHooks is called when the server rejects the session.
type SessionHooks interface {
	ForceLogout(ctx context.Context, serverURL string)
}

// Options tunes deferred enrichment.
type Options struct {
	PostsPerChannel   int
	MaxUnreadChannels int
}

// Runtime holds the process-wide collaborators shared by every server.
type Runtime struct {
	Expiry     ExpiryScheduler
	Session    SessionHooks
	Dispatcher *Dispatcher
	Log        *slog.Logger
	Options    Options
}

// Registry resolves the collaborators of one server.
type Registry interface {
	Client(serverURL string) (remote.Client, error)
	Store(serverURL string) (*store.Store, error)
	Runtime() Runtime
}

// Server is everything an entry pass needs for one server. It is resolved
// once per pass and passed explicitly to every step.
type Server struct {
	URL        string
	Client     remote.Client
	Store      *store.Store
	Expiry     ExpiryScheduler
	Session    SessionHooks
	Dispatcher *Dispatcher
	Log        *slog.Logger
	Options    Options
}

// Resolve looks up the store and client of serverURL. The returned server's
// logger carries the server and a fresh pass id.
func Resolve(reg Registry, serverURL, pass string) (*Server, error) {
	st, err := reg.Store(serverURL)
	if err != nil || st == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseNotFound, serverURL, err)
	}
	client, err := reg.Client(serverURL)
	if err != nil || client == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrClientNotFound, serverURL, err)
	}

	rt := reg.Runtime()
	log := rt.Log
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		URL:        serverURL,
		Client:     client,
		Store:      st,
		Expiry:     rt.Expiry,
		Session:    rt.Session,
		Dispatcher: rt.Dispatcher,
		Log:        log.With("server", serverURL, "entry", pass, "pass", uuid.NewString()),
		Options:    rt.Options,
	}
	if srv.Dispatcher == nil {
		srv.Dispatcher = NewDispatcher(0)
	}
	if srv.Options.PostsPerChannel <= 0 {
		srv.Options.PostsPerChannel = 60
	}
	if srv.Options.MaxUnreadChannels <= 0 {
		srv.Options.MaxUnreadChannels = 10
	}
	return srv, nil
}

func (s *Server) forceLogout(ctx context.Context) {
	if s.Session == nil {
		return
	}
	s.Log.Warn("session rejected, forcing logout")
	s.Session.ForceLogout(ctx, s.URL)
}

func (s *Server) scheduleExpiry(at time.Time) {
	if s.Expiry == nil {
		return
	}
	s.Expiry.ScheduleExpiry(s.URL, at)
}

// firstError returns the first non-nil error.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
