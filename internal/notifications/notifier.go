package notifications

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/m96-chan/slackentry/internal/consts"
)

// minInterval is the minimum time between notifications to prevent spam.
const minInterval = 3 * time.Second

// Notifier sends desktop notifications with rate limiting.
type Notifier struct {
	mu       sync.Mutex
	lastSent time.Time
	enabled  bool
	send     func(title, body string) error
}

// New creates a new Notifier. A disabled notifier drops every message.
func New(enabled bool) *Notifier {
	return &Notifier{enabled: enabled, send: sendPlatform}
}

// Send dispatches a desktop notification using the platform's native system.
// Returns silently if disabled, rate-limited or if the platform is unsupported.
func (n *Notifier) Send(title, body string) {
	if !n.enabled {
		return
	}
	n.mu.Lock()
	if time.Since(n.lastSent) < minInterval {
		n.mu.Unlock()
		return
	}
	n.lastSent = time.Now()
	send := n.send
	n.mu.Unlock()

	go func() {
		if err := send(title, body); err != nil {
			slog.Debug("notification failed", "error", err)
		}
	}()
}

// sendPlatform dispatches a notification using OS-specific commands.
func sendPlatform(title, body string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("notify-send", "--app-name="+consts.Name, title, body).Run()
	case "darwin":
		script := fmt.Sprintf(
			`display notification %q with title %q`, body, title)
		return exec.Command("osascript", "-e", script).Run()
	default:
		slog.Debug("notifications not supported on this platform", "os", runtime.GOOS)
		return nil
	}
}
