package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack/socketmode"
)

// ErrNoAppToken is returned by RunSocketMode when the client was created
// without an app-level token.
var ErrNoAppToken = errors.New("socket mode requires an app-level token")

// EventHandler holds the connection lifecycle callbacks watch mode reacts to.
// Nil callbacks are silently skipped.
type EventHandler struct {
	OnConnected    func()
	OnDisconnected func()
	OnError        func(error)
}

// RunSocketMode creates a socketmode.Client, registers the lifecycle handlers
// and runs the event loop. It blocks until ctx is cancelled or a fatal error
// occurs.
func (c *Client) RunSocketMode(ctx context.Context, handler *EventHandler) error {
	if c.appToken == "" {
		return ErrNoAppToken
	}
	smClient := socketmode.New(c.api)
	smHandler := socketmode.NewSocketmodeHandler(smClient)

	registerLifecycleHandlers(smHandler, handler)

	// Acknowledge everything else so the server does not redeliver.
	smHandler.HandleDefault(func(evt *socketmode.Event, client *socketmode.Client) {
		if evt.Request != nil && evt.Request.EnvelopeID != "" {
			client.Ack(*evt.Request)
		}
	})

	return smHandler.RunEventLoopContext(ctx)
}

// registerLifecycleHandlers wires socketmode-level connection events to the
// appropriate EventHandler callbacks.
func registerLifecycleHandlers(smHandler *socketmode.SocketmodeHandler, handler *EventHandler) {
	smHandler.Handle(socketmode.EventTypeConnected, func(evt *socketmode.Event, _ *socketmode.Client) {
		handleLifecycle(handler, evt)
	})
	smHandler.Handle(socketmode.EventTypeDisconnect, func(evt *socketmode.Event, _ *socketmode.Client) {
		handleLifecycle(handler, evt)
	})
	smHandler.Handle(socketmode.EventTypeIncomingError, func(evt *socketmode.Event, _ *socketmode.Client) {
		handleLifecycle(handler, evt)
	})
	smHandler.Handle(socketmode.EventTypeConnectionError, func(evt *socketmode.Event, _ *socketmode.Client) {
		handleLifecycle(handler, evt)
	})
	smHandler.Handle(socketmode.EventTypeInvalidAuth, func(evt *socketmode.Event, _ *socketmode.Client) {
		handleLifecycle(handler, evt)
	})
}

func handleLifecycle(handler *EventHandler, evt *socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		slog.Info("socket mode connected")
		if handler.OnConnected != nil {
			handler.OnConnected()
		}
	case socketmode.EventTypeDisconnect:
		slog.Warn("socket mode disconnected")
		if handler.OnDisconnected != nil {
			handler.OnDisconnected()
		}
	case socketmode.EventTypeIncomingError:
		reportError(handler, evt.Data, "socket mode incoming error")
	case socketmode.EventTypeConnectionError:
		slog.Warn("socket mode connection error", "data", evt.Data)
		reportError(handler, evt.Data, "socket mode connection error")
	case socketmode.EventTypeInvalidAuth:
		slog.Error("socket mode invalid auth")
		if handler.OnError != nil {
			handler.OnError(classify("socket_mode", errors.New("invalid_auth")))
		}
	}
}

func reportError(handler *EventHandler, data any, what string) {
	if handler.OnError == nil {
		return
	}
	if err, ok := data.(error); ok {
		handler.OnError(err)
		return
	}
	handler.OnError(fmt.Errorf("%s: %v", what, data))
}
