// Package credential persists API keys in named slots and yields the ordered
// candidate list the analysis client iterates: environment first, then the
// primary slot, then backup slots in ascending order.
package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// EnvKey is consulted before any stored slot and never persisted.
	EnvKey = "LULU_COMPANION_API_KEY"

	// PrimarySlot is the main stored credential.
	PrimarySlot = "apiKey"

	backupSlotPrefix = "backupKey"

	// MaxBackupSlots bounds the backup slot range accepted by the CLI.
	MaxBackupSlots = 9
)

// FileStore keeps credentials in a JSON file with owner-only permissions.
// Stronger obfuscation or keychain storage is a delegated concern behind the
// domain.CredentialStore surface.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]string{}
	}
	return m
}

func (s *FileStore) persist(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.load()[name]
	return v, ok && v != ""
}

func (s *FileStore) Save(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.load()
	m[name] = value
	return s.persist(m)
}

func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.load()
	if _, ok := m[name]; !ok {
		return fmt.Errorf("no credential in slot %s", name)
	}
	delete(m, name)
	return s.persist(m)
}

// Slots returns the populated slot names, primary first then backups in
// ascending numeric order.
func (s *FileStore) Slots() []string {
	s.mu.Lock()
	m := s.load()
	s.mu.Unlock()

	var slots []string
	if m[PrimarySlot] != "" {
		slots = append(slots, PrimarySlot)
	}
	var backups []string
	for name, v := range m {
		if v != "" && strings.HasPrefix(name, backupSlotPrefix) {
			backups = append(backups, name)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backupIndex(backups[i]) < backupIndex(backups[j])
	})
	return append(slots, backups...)
}

// NextFreeBackupSlot returns the lowest unpopulated backup slot name.
func (s *FileStore) NextFreeBackupSlot() (string, error) {
	s.mu.Lock()
	m := s.load()
	s.mu.Unlock()

	for i := 1; i <= MaxBackupSlots; i++ {
		name := BackupSlot(i)
		if m[name] == "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("all %d backup slots are in use", MaxBackupSlots)
}

// BackupSlot renders the slot name for index n (1-based).
func BackupSlot(n int) string {
	return backupSlotPrefix + strconv.Itoa(n)
}

func backupIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, backupSlotPrefix))
	if err != nil {
		return MaxBackupSlots + 1
	}
	return n
}

// Ordered returns the deduplicated candidate credentials in priority order:
// the environment variable, then the primary slot, then backups ascending.
// It re-reads the store every call so add/remove takes effect on the next
// analysis without a stale snapshot.
func (s *FileStore) Ordered() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(os.Getenv(EnvKey))
	s.mu.Lock()
	m := s.load()
	s.mu.Unlock()
	add(m[PrimarySlot])
	for i := 1; i <= MaxBackupSlots; i++ {
		add(m[BackupSlot(i)])
	}
	return out
}

// Mask renders a credential for display: enough prefix to recognize the
// provider, the rest redacted.
func Mask(credential string) string {
	if len(credential) <= 10 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:10] + strings.Repeat("*", 6)
}
