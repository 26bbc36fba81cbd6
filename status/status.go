package status

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/puzpuzpuz/xsync/v4"
	"gopkg.in/yaml.v3"

	"github.com/pokt-network/pocket-faucet/logging"
)

const (
	// cacheTTL bounds how long a computed status list is reused.
	cacheTTL = 10 * time.Second

	// hashLength is the number of hex characters in a status hash.
	hashLength = 16
)

// Level is the display severity of a status entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Filter restricts which clients see an entry.
type Filter struct {
	// Session, when set, shows the entry only to clients with (true) or
	// without (false) a running session.
	Session *bool `yaml:"session,omitempty"`

	// LtVersion shows the entry only to clients older than this version.
	// Clients that send no version always match.
	LtVersion string `yaml:"lt_version,omitempty"`
}

// Entry is one status message shown to clients.
type Entry struct {
	Key    string  `yaml:"key,omitempty" json:"-"`
	Text   string  `yaml:"text" json:"text"`
	Level  Level   `yaml:"level" json:"level"`
	Prio   int     `yaml:"prio,omitempty" json:"prio"`
	IsHTML bool    `yaml:"ishtml,omitempty" json:"ishtml,omitempty"`
	Filter *Filter `yaml:"filter,omitempty" json:"-"`
}

// Snapshot is the status list for one client with its hash.
type Snapshot struct {
	Status []Entry
	Hash   string
}

type cached struct {
	snapshot Snapshot
	at       time.Time
}

// Service holds the faucet status entries from the status file and those set
// at runtime, and renders the list for a given client.
type Service struct {
	logger logging.Logger
	path   string

	mu      sync.RWMutex
	file    []Entry
	runtime map[string]Entry

	cache *xsync.Map[string, cached]
	now   func() time.Time
}

// NewService creates the status service and loads path. An empty path or a
// missing file yields no file entries.
func NewService(logger logging.Logger, path string) (*Service, error) {
	s := &Service{
		logger:  logging.ForComponent(logger, logging.ComponentFaucetStatus),
		path:    path,
		runtime: make(map[string]Entry),
		cache:   xsync.NewMap[string, cached](),
		now:     time.Now,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the status file.
func (s *Service) Reload() error {
	entries, err := loadFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.file = entries
	s.mu.Unlock()
	s.cache.Clear()

	s.logger.Debug().
		Str(logging.FieldPath, s.path).
		Int(logging.FieldCount, len(entries)).
		Msg("faucet status loaded")
	return nil
}

func loadFile(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse status file: %w", err)
	}
	for i := range entries {
		if entries[i].Level == "" {
			entries[i].Level = LevelInfo
		}
		if f := entries[i].Filter; f != nil && f.LtVersion != "" {
			if _, err := version.NewVersion(f.LtVersion); err != nil {
				return nil, fmt.Errorf("status entry %d has invalid lt_version %q: %w", i, f.LtVersion, err)
			}
		}
	}
	return entries, nil
}

// Set adds or replaces a runtime entry under key. An empty text removes it.
func (s *Service) Set(key, text string, level Level, prio int) {
	s.mu.Lock()
	if text == "" {
		delete(s.runtime, key)
	} else {
		s.runtime[key] = Entry{Key: key, Text: text, Level: level, Prio: prio}
	}
	s.mu.Unlock()
	s.cache.Clear()
}

// Get returns the entries visible to a client with clientVersion, sorted by
// descending priority.
func (s *Service) Get(clientVersion string, hasSession bool) Snapshot {
	cacheKey := clientVersion + "|" + strconv.FormatBool(hasSession)
	now := s.now()
	if c, ok := s.cache.Load(cacheKey); ok && now.Sub(c.at) < cacheTTL {
		return c.snapshot
	}

	var clientVer *version.Version
	if clientVersion != "" {
		clientVer, _ = version.NewVersion(clientVersion)
	}

	s.mu.RLock()
	candidates := make([]Entry, 0, len(s.file)+len(s.runtime))
	candidates = append(candidates, s.file...)
	for _, e := range s.runtime {
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	visible := make([]Entry, 0, len(candidates))
	for _, e := range candidates {
		if e.matches(clientVer, hasSession) {
			visible = append(visible, e)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].Prio != visible[j].Prio {
			return visible[i].Prio > visible[j].Prio
		}
		return visible[i].Text < visible[j].Text
	})

	snapshot := Snapshot{Status: visible, Hash: hashEntries(visible)}
	s.cache.Store(cacheKey, cached{snapshot: snapshot, at: now})
	return snapshot
}

func (e Entry) matches(clientVer *version.Version, hasSession bool) bool {
	if e.Filter == nil {
		return true
	}
	if e.Filter.Session != nil && *e.Filter.Session != hasSession {
		return false
	}
	if e.Filter.LtVersion != "" && clientVer != nil {
		limit, err := version.NewVersion(e.Filter.LtVersion)
		if err == nil && !clientVer.LessThan(limit) {
			return false
		}
	}
	return true
}

func hashEntries(entries []Entry) string {
	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:hashLength]
}
