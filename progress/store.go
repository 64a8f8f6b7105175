package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
)

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

var sessionChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileStore keeps one progress_<session>.json file per session so that a
// separate request can read it while the job runs.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// SanitizeSession drops characters that are not safe in a file name.
func SanitizeSession(session string) string {
	return sessionChars.ReplaceAllString(session, "")
}

// Path returns the progress file of a session.
func (s *FileStore) Path(session string) string {
	return filepath.Join(s.dir, "progress_"+SanitizeSession(session)+".json")
}

// Write replaces the session's progress file atomically.
func (s *FileStore) Write(session string, u Update) error {
	if SanitizeSession(session) == "" {
		return fmt.Errorf("invalid progress session %q", session)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating progress directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".progress-*")
	if err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing progress: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path(session))
}

// Read returns the session's last update. A missing file reads as zero
// progress with no error.
func (s *FileStore) Read(session string) (Update, error) {
	var u Update
	data, err := os.ReadFile(s.Path(session))
	if os.IsNotExist(err) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("reading progress: %w", err)
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("parsing progress: %w", err)
	}
	return u, nil
}

// Remove deletes the session's progress file.
func (s *FileStore) Remove(session string) error {
	err := os.Remove(s.Path(session))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Reporter returns a Reporter writing to the session file. Write errors are
// logged and otherwise ignored.
func (s *FileStore) Reporter(session string) Reporter {
	return Func(func(percent int, message string) {
		if err := s.Write(session, Update{Percent: percent, Message: message}); err != nil {
			log.WithField("session", session).Warnf("Failed to write progress: %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// MemoryStore keeps the latest update per key and forgets keys that have
// not been updated within the TTL.
type MemoryStore struct {
	cache *ttlcache.Cache[string, Update]
}

// NewMemoryStore creates a store whose entries expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: ttlcache.New(ttlcache.WithTTL[string, Update](ttl)),
	}
}

// Start runs the expiry loop until Stop is called.
func (s *MemoryStore) Start() { go s.cache.Start() }

// Stop ends the expiry loop.
func (s *MemoryStore) Stop() { s.cache.Stop() }

// Set stores an update.
func (s *MemoryStore) Set(key string, u Update) {
	s.cache.Set(key, u, ttlcache.DefaultTTL)
}

// Get returns the latest update for key.
func (s *MemoryStore) Get(key string) (Update, bool) {
	item := s.cache.Get(key)
	if item == nil {
		return Update{}, false
	}
	return item.Value(), true
}

// Delete forgets key.
func (s *MemoryStore) Delete(key string) {
	s.cache.Delete(key)
}

// Reporter returns a Reporter updating key.
func (s *MemoryStore) Reporter(key string) Reporter {
	return Func(func(percent int, message string) {
		s.Set(key, Update{Percent: percent, Message: message})
	})
}
