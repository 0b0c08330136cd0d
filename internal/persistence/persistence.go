// Package persistence stores contact snapshots so a widget reload can resume
// the same interaction instead of creating a new one.
//
// Snapshots are host-local, keyed by the persistence id from the session
// context, and msgpack-encoded on disk.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/pkg/types"
)

// Snapshot is the durable state needed to resume a contact channel.
type Snapshot struct {
	// ContactID identifies the contact on the server.
	ContactID string `msgpack:"contactId"`
	// Token is the channel auth token issued at creation.
	Token string `msgpack:"token"`
	// CampaignID and Language restore the creation scope.
	CampaignID string `msgpack:"campaignId"`
	Language   string `msgpack:"language,omitempty"`
	// InitialOffer is the media offer the contact started with.
	InitialOffer media.Offer `msgpack:"initialOffer,omitempty"`
	// Agent is the last known serving agent, when one had joined.
	Agent *types.Agent `msgpack:"agent,omitempty"`
	// SavedAtMs is the wall-clock timestamp of the most recent write.
	SavedAtMs int64 `msgpack:"savedAtMs,omitempty"`
}

// Store reads and writes snapshots under a base directory, one file per
// persistence id.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the snapshot for the given persistence id. Writes go through a
// temp file and rename so readers never observe a partial snapshot.
func (s *Store) Save(persistenceID string, snap Snapshot) error {
	path, err := s.path(persistenceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	snap.SavedAtMs = time.Now().UnixMilli()
	raw, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the snapshot for the given persistence id.
//
// ok is false when no snapshot exists.
func (s *Store) Load(persistenceID string) (snap Snapshot, ok bool, err error) {
	path, err := s.path(persistenceID)
	if err != nil {
		return Snapshot{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Delete removes the snapshot for the given persistence id, if present.
func (s *Store) Delete(persistenceID string) error {
	path, err := s.path(persistenceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(persistenceID string) (string, error) {
	id := strings.TrimSpace(persistenceID)
	if id == "" {
		return "", fmt.Errorf("missing persistence id")
	}
	// Persistence ids come from the host page; refuse anything that could
	// escape the store directory.
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", fmt.Errorf("invalid persistence id %q", persistenceID)
	}
	return filepath.Join(s.dir, "contacts", id+".msgpack"), nil
}
