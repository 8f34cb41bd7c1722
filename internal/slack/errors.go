package slack

import (
	"context"
	"errors"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/m96-chan/slackentry/internal/remote"
)

// errorKinds maps Web API error codes to remote error kinds. Scope and app
// configuration errors such as missing_scope stay unmapped: they say nothing
// about team membership.
var errorKinds = map[string]remote.Kind{
	"team_access_not_granted": remote.KindForbidden,
	"not_in_channel":          remote.KindForbidden,
	"not_authed":              remote.KindUnauthorized,
	"invalid_auth":            remote.KindUnauthorized,
	"token_revoked":           remote.KindUnauthorized,
	"token_expired":           remote.KindUnauthorized,
	"account_inactive":        remote.KindUnauthorized,
	"channel_not_found":       remote.KindNotFound,
	"team_not_found":          remote.KindNotFound,
	"user_not_found":          remote.KindNotFound,
	"ratelimited":             remote.KindTransient,
	"internal_error":          remote.KindTransient,
	"service_unavailable":     remote.KindTransient,
	"request_timeout":         remote.KindTransient,
}

// classify wraps err in a remote.Error whose kind is derived from the HTTP
// status or the API error code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}
	return remote.NewError(kindOf(err), op, err)
}

func kindOf(err error) remote.Kind {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return remote.KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return remote.KindTransient
	}

	var sce slack.StatusCodeError
	if errors.As(err, &sce) {
		switch {
		case sce.Code == http.StatusForbidden:
			return remote.KindForbidden
		case sce.Code == http.StatusUnauthorized:
			return remote.KindUnauthorized
		case sce.Code == http.StatusNotFound:
			return remote.KindNotFound
		case sce.Code == http.StatusTooManyRequests || sce.Code >= 500:
			return remote.KindTransient
		}
		return remote.KindUnknown
	}

	code := err.Error()
	var ser slack.SlackErrorResponse
	if errors.As(err, &ser) {
		code = ser.Err
	}
	if k, ok := errorKinds[code]; ok {
		return k
	}
	return remote.KindUnknown
}
