package keyring

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/m96-chan/slackentry/internal/consts"
)

// Server represents a registered server entry. Tokens live in the keyring;
// the registry only lists what has been logged in to.
type Server struct {
	URL    string `json:"url"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

const serversFile = "servers.json"

// registryDir holds servers.json. SLACKENTRY_DATA_DIR overrides the cache
// directory.
func registryDir() string {
	if v := os.Getenv("SLACKENTRY_DATA_DIR"); v != "" {
		return v
	}
	return consts.CacheDir
}

func serversPath() string {
	return filepath.Join(registryDir(), serversFile)
}

// ListServers returns all registered servers in registration order.
func ListServers() ([]Server, error) {
	data, err := os.ReadFile(serversPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ss []Server
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, err
	}
	return ss, nil
}

func saveServers(ss []Server) error {
	if err := os.MkdirAll(registryDir(), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ss, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(serversPath(), data, 0o600)
}

// AddServer stores the tokens and adds s to the registry. An existing entry
// with the same URL is updated in place.
func AddServer(s Server, t Tokens) error {
	ss, err := ListServers()
	if err != nil {
		ss = nil
	}
	if err := SetTokens(s.URL, t); err != nil {
		return err
	}

	found := false
	for i, cur := range ss {
		if cur.URL == s.URL {
			ss[i] = s
			found = true
			break
		}
	}
	if !found {
		ss = append(ss, s)
	}
	return saveServers(ss)
}

// RemoveServer deletes the tokens of serverURL and drops it from the registry.
func RemoveServer(serverURL string) error {
	ss, err := ListServers()
	if err != nil {
		return err
	}
	tokErr := DeleteTokens(serverURL)

	updated := ss[:0]
	for _, s := range ss {
		if s.URL != serverURL {
			updated = append(updated, s)
		}
	}
	return errors.Join(tokErr, saveServers(updated))
}

// ErrNoServers is returned by DefaultServer when nothing is registered.
var ErrNoServers = errors.New("no server registered; run with -login first")

// DefaultServer returns the first registered server.
func DefaultServer() (Server, error) {
	ss, err := ListServers()
	if err != nil {
		return Server{}, err
	}
	if len(ss) == 0 {
		return Server{}, ErrNoServers
	}
	return ss[0], nil
}
