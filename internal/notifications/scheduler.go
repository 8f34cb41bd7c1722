package notifications

import (
	"log/slog"
	"sync"
	"time"
)

// expiryLead is how long before the session ends the reminder fires.
const expiryLead = 10 * time.Minute

type sender interface {
	Send(title, body string)
}

// Scheduler reminds the user shortly before a server session expires. One
// reminder is pending per server; scheduling again replaces it.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	out    sender
	log    *slog.Logger
	now    func() time.Time
}

// NewScheduler returns a Scheduler delivering through n.
func NewScheduler(n *Notifier, log *slog.Logger) *Scheduler {
	return newScheduler(n, log)
}

func newScheduler(out sender, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		out:    out,
		log:    log,
		now:    time.Now,
	}
}

// ScheduleExpiry arms the reminder for serverURL. Times already in the past
// are ignored.
func (s *Scheduler) ScheduleExpiry(serverURL string, at time.Time) {
	fireIn := at.Add(-expiryLead).Sub(s.now())
	if fireIn < 0 {
		fireIn = at.Sub(s.now())
		if fireIn <= 0 {
			s.log.Debug("session expiry already passed", "server", serverURL, "at", at)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[serverURL]; ok {
		t.Stop()
	}
	s.timers[serverURL] = time.AfterFunc(fireIn, func() {
		s.mu.Lock()
		delete(s.timers, serverURL)
		s.mu.Unlock()
		s.out.Send("Session expiring", "Your session on "+serverURL+" expires at "+at.Local().Format(time.Kitchen)+". Log in again to stay connected.")
	})
	s.log.Debug("session expiry scheduled", "server", serverURL, "at", at, "fire_in", fireIn)
}

// Pending reports whether a reminder is armed for serverURL.
func (s *Scheduler) Pending(serverURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[serverURL]
	return ok
}

// Cancel disarms the reminder for serverURL.
func (s *Scheduler) Cancel(serverURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[serverURL]; ok {
		t.Stop()
		delete(s.timers, serverURL)
	}
}

// Stop disarms every pending reminder.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, t := range s.timers {
		t.Stop()
		delete(s.timers, url)
	}
}
