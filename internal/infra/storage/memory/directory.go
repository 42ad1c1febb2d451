package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"campus-messaging/internal/domain/chat"
)

// Directory resolves display names from in-memory tables.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]string
	listings map[string]string
}

// NewDirectory builds an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]string),
		listings: make(map[string]string),
	}
}

// PutUser stores a user display name.
func (d *Directory) PutUser(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = name
}

// PutListing stores a listing title.
func (d *Directory) PutListing(id, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listings[id] = title
}

// DisplayNames returns names for the known ids; unknown ids are absent from the map.
func (d *Directory) DisplayNames(ctx context.Context, kind chat.EntityKind, ids []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var table map[string]string
	switch kind {
	case chat.EntityUser:
		table = d.users
	case chat.EntityListing:
		table = d.listings
	default:
		return nil, fmt.Errorf("memory: unknown entity kind %q", kind)
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := table[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

type directoryFixture struct {
	Users []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"users"`
	Listings []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"listings"`
}

// LoadDirectoryFixtures fills d from a JSON file with "users" and "listings"
// arrays. A missing file is not an error; the number of loaded entries is returned.
func LoadDirectoryFixtures(d *Directory, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read fixtures: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return 0, nil
	}
	var fx directoryFixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return 0, fmt.Errorf("decode fixtures: %w", err)
	}
	n := 0
	for _, u := range fx.Users {
		if strings.TrimSpace(u.ID) == "" {
			continue
		}
		d.PutUser(u.ID, u.Name)
		n++
	}
	for _, l := range fx.Listings {
		if strings.TrimSpace(l.ID) == "" {
			continue
		}
		d.PutListing(l.ID, l.Title)
		n++
	}
	return n, nil
}

var _ chat.Directory = (*Directory)(nil)
