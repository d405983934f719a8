// Package prefs is the persisted-state store for favorites, search history,
// and locale. It is injected into the state controller at construction;
// nothing else touches the backing file.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrStorageDirRequired = errors.New("storage directory not provided")

// historyLimit bounds the search history, most recent first.
const historyLimit = 10

type state struct {
	Favorites []string `json:"favorites"`
	History   []string `json:"history"`
	Language  string   `json:"language"`
	Region    string   `json:"region"`
}

// Store persists user preferences as a JSON file, loaded on init and saved
// on every mutation.
type Store struct {
	mu    sync.RWMutex
	path  string
	state state
}

// NewStore creates a preference store inside the provided directory.
func NewStore(storageDir string) (*Store, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create prefs dir: %w", err)
	}

	s := &Store{
		path: filepath.Join(storageDir, "prefs.json"),
		state: state{
			Language: "en-US",
			Region:   "US",
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open prefs file: %w", err)
	}
	defer f.Close()

	var loaded state
	if err := json.NewDecoder(f).Decode(&loaded); err != nil {
		return fmt.Errorf("decode prefs file: %w", err)
	}
	if loaded.Language == "" {
		loaded.Language = "en-US"
	}
	if loaded.Region == "" {
		loaded.Region = "US"
	}
	s.state = loaded
	return nil
}

// save writes the current state. Callers must hold the write lock.
func (s *Store) save() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create prefs file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.state); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close prefs file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Favorites returns the favorite composite keys as a lookup set.
func (s *Store) Favorites() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]bool, len(s.state.Favorites))
	for _, key := range s.state.Favorites {
		set[key] = true
	}
	return set
}

// FavoriteKeys returns the favorite composite keys in insertion order.
func (s *Store) FavoriteKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.state.Favorites))
	copy(keys, s.state.Favorites)
	return keys
}

// IsFavorite reports whether the composite key is favorited.
func (s *Store) IsFavorite(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.state.Favorites {
		if k == key {
			return true
		}
	}
	return false
}

// ToggleFavorite adds the key if absent and removes it if present, returning
// the new membership state.
func (s *Store) ToggleFavorite(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, k := range s.state.Favorites {
		if k == key {
			s.state.Favorites = append(s.state.Favorites[:i], s.state.Favorites[i+1:]...)
			return false, s.save()
		}
	}
	s.state.Favorites = append(s.state.Favorites, key)
	return true, s.save()
}

// History returns the search history, most recent first.
func (s *Store) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.state.History))
	copy(out, s.state.History)
	return out
}

// AddHistory records a query at the front of the history. Duplicates are
// ignored and the list is capped at ten entries.
func (s *Store) AddHistory(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.state.History {
		if q == query {
			return nil
		}
	}
	history := append([]string{query}, s.state.History...)
	if len(history) > historyLimit {
		history = history[:historyLimit]
	}
	s.state.History = history
	return s.save()
}

// ClearHistory drops all recorded queries.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.History = nil
	return s.save()
}

// Locale returns the active language code and region.
func (s *Store) Locale() (language, region string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Language, s.state.Region
}

// SetLocale persists a new language and region.
func (s *Store) SetLocale(language, region string) error {
	language = strings.TrimSpace(language)
	region = strings.ToUpper(strings.TrimSpace(region))
	if language == "" || region == "" {
		return errors.New("language and region are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Language = language
	s.state.Region = region
	return s.save()
}
