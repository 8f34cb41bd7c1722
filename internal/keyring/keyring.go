package keyring

import (
	"errors"
	"os"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/m96-chan/slackentry/internal/consts"
)

// ErrNotFound is returned when no user token is stored for a server.
var ErrNotFound = gokeyring.ErrNotFound

// Tokens holds the credentials of one server.
type Tokens struct {
	User string
	App  string
}

func userKey(serverURL string) string { return "user:" + serverURL }
func appKey(serverURL string) string  { return "app:" + serverURL }

// GetTokens returns the tokens for serverURL. SLACKENTRY_TOKEN and
// SLACKENTRY_APP_TOKEN override the keyring. The app token is optional.
func GetTokens(serverURL string) (Tokens, error) {
	var t Tokens
	if v := os.Getenv("SLACKENTRY_TOKEN"); v != "" {
		t.User = v
	} else {
		v, err := gokeyring.Get(consts.Name, userKey(serverURL))
		if err != nil {
			return Tokens{}, err
		}
		t.User = v
	}

	if v := os.Getenv("SLACKENTRY_APP_TOKEN"); v != "" {
		t.App = v
		return t, nil
	}
	v, err := gokeyring.Get(consts.Name, appKey(serverURL))
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return Tokens{}, err
	}
	t.App = v
	return t, nil
}

// SetTokens stores the tokens for serverURL in the system keyring. An empty
// app token is left untouched.
func SetTokens(serverURL string, t Tokens) error {
	if err := gokeyring.Set(consts.Name, userKey(serverURL), t.User); err != nil {
		return err
	}
	if t.App == "" {
		return nil
	}
	return gokeyring.Set(consts.Name, appKey(serverURL), t.App)
}

// DeleteTokens removes both tokens of serverURL. Missing entries are not an error.
func DeleteTokens(serverURL string) error {
	var errs []error
	for _, key := range []string{userKey(serverURL), appKey(serverURL)} {
		if err := gokeyring.Delete(consts.Name, key); err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
