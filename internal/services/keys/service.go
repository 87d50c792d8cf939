// Package keys provides an encrypted named-keystore with file watching.
// API keys are sealed with AES-256-GCM under a locally generated secret and
// never touch disk in plaintext.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
)

var (
	// ErrCorrupted reports that the keys file or its secret cannot be
	// decoded or authenticated.
	ErrCorrupted = errors.New("keystore is corrupted")

	// ErrNotFound reports that no key with the requested name exists.
	ErrNotFound = errors.New("key not found")
)

const (
	keysFileName   = "keys.json"
	secretFileName = ".secret"
)

// Entry is one stored key.
type Entry struct {
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
}

// Info is the listing view of an entry. The key itself is masked.
type Info struct {
	Name      string    `json:"name"`
	Masked    string    `json:"masked"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
}

// keysFile is the plaintext shape sealed inside the envelope.
type keysFile struct {
	Version int     `json:"version"`
	Keys    []Entry `json:"keys"`
}

// Event represents a keystore event.
type Event struct {
	Type  EventType
	Error error
}

// EventType defines the type of keystore event.
type EventType int

const (
	EventKeysLoaded EventType = iota
	EventKeysChanged
	EventError
)

// Service manages the encrypted keystore with file watching so external
// edits (another process on the same machine) are picked up.
type Service struct {
	mu            sync.RWMutex
	entries       []Entry
	dir           string
	filePath      string
	secret        []byte
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
	now           func() time.Time
}

// New creates a keystore rooted at dir and starts file watching. The
// directory is created if needed; a fresh secret is generated on first use.
func New(dir string) (*Service, error) {
	if dir == "" {
		return nil, errors.New("keystore directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	secret, err := loadOrCreateSecret(filepath.Join(dir, secretFileName))
	if err != nil {
		return nil, err
	}

	s := &Service{
		dir:       dir,
		filePath:  filepath.Join(dir, keysFileName),
		secret:    secret,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}

	if err := s.load(); err != nil {
		if os.IsNotExist(err) {
			if err := s.save(); err != nil {
				return nil, fmt.Errorf("failed to create keys file: %w", err)
			}
		} else {
			return nil, err
		}
	}

	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventKeysLoaded})
	return s, nil
}

// Events returns the event channel for subscribing to keystore changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Add stores a new named key. Names are unique.
func (s *Service) Add(name, key string) error {
	if name == "" {
		return errors.New("key name is required")
	}
	if key == "" {
		return errors.New("key value is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.Name == name {
			return fmt.Errorf("key %q already exists", name)
		}
	}

	s.entries = append(s.entries, Entry{
		Name:      name,
		Key:       key,
		CreatedAt: s.now(),
	})

	if err := s.save(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return fmt.Errorf("failed to save keystore: %w", err)
	}
	return nil
}

// Get returns the raw key stored under name.
func (s *Service) Get(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.Name == name {
			return entry.Key, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Remove deletes the key stored under name.
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, entry := range s.entries {
		if entry.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	if err := s.save(); err != nil {
		return fmt.Errorf("failed to save keystore: %w", err)
	}
	return nil
}

// List returns a masked view of all entries, sorted by name.
func (s *Service) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, len(s.entries))
	for i, entry := range s.entries {
		infos[i] = Info{
			Name:      entry.Name,
			Masked:    models.MaskAPIKey(entry.Key),
			CreatedAt: entry.CreatedAt,
			LastUsed:  entry.LastUsed,
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Count returns the number of stored keys.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TouchLastUsed records that the named key was just used. Unknown names are
// ignored so status lookups with ad-hoc keys stay cheap.
func (s *Service) TouchLastUsed(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].Name == name {
			s.entries[i].LastUsed = s.now()
			if err := s.save(); err != nil {
				logger.Warn("failed to persist last-used timestamp", "error", err)
			}
			return
		}
	}
}

// load reads and decrypts the keys file. Must not hold the lock.
func (s *Service) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	plaintext, err := decrypt(s.secret, raw)
	if err != nil {
		return err
	}

	var file keysFile
	if err := json.Unmarshal(plaintext, &file); err != nil {
		return ErrCorrupted
	}

	s.mu.Lock()
	s.entries = file.Keys
	s.mu.Unlock()
	return nil
}

// save encrypts and writes the keys file atomically. Callers hold the lock
// except during construction.
func (s *Service) save() error {
	plaintext, err := json.Marshal(keysFile{Version: 1, Keys: s.entries})
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	sealed, err := encrypt(s.secret, plaintext)
	if err != nil {
		return err
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory to catch file creation as well as writes
	if err := watcher.Add(s.dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != keysFileName {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, func() {
					s.handleFileChange()
				})
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads the keystore after an external change.
func (s *Service) handleFileChange() {
	if err := s.load(); err != nil {
		logger.Warn("failed to reload keystore", "error", err)
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}
	s.sendEvent(Event{Type: EventKeysChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	close(s.stopChan)

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
