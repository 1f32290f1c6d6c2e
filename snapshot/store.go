package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/retrago/retrago/persistence"
)

const (
	// CurrentFileName names the published-snapshot pointer at the store root.
	CurrentFileName = "CURRENT"

	tmpPrefix = ".tmp-"
)

var (
	// ErrSnapshotNotFound is returned when a snapshot id does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNoCurrentSnapshot is returned when no snapshot has been published.
	ErrNoCurrentSnapshot = errors.New("no current snapshot")

	// ErrBuildInProgress is returned when a build for the same snapshot id
	// is already staging. Building is exclusive per target snapshot.
	ErrBuildInProgress = errors.New("build already in progress")
)

// Store manages a directory of snapshots plus the CURRENT pointer.
//
// Layout:
//
//	<root>/CURRENT          name of the published snapshot (may be absent)
//	<root>/<id>/            one Ready snapshot per directory
//	<root>/.tmp-<id>/       staging area for an in-flight build
type Store struct {
	root string
}

// NewStore opens (creating if needed) a snapshot store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Path returns the directory of a snapshot id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) stagingPath(id string) string {
	return filepath.Join(s.root, tmpPrefix+id)
}

// Begin creates the exclusive staging directory for a build and returns it.
// The snapshot is in the Building state until Publish or Discard.
func (s *Store) Begin(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.Path(id)); err == nil {
		return "", fmt.Errorf("snapshot %q already published", id)
	}
	dir := s.stagingPath(id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrBuildInProgress, id)
		}
		return "", err
	}
	return dir, nil
}

// Publish atomically moves a staged build into place and repoints CURRENT.
// After Publish the snapshot is Ready and immutable.
func (s *Store) Publish(id string) error {
	staging := s.stagingPath(id)
	if _, err := os.Stat(staging); err != nil {
		return fmt.Errorf("publish %q: no staged build: %w", id, err)
	}
	if err := os.Rename(staging, s.Path(id)); err != nil {
		return err
	}
	if err := persistence.SyncDir(s.root); err != nil {
		return err
	}
	return s.setCurrent(id)
}

// Discard removes a staged build, leaving any published snapshots untouched.
func (s *Store) Discard(id string) error {
	return os.RemoveAll(s.stagingPath(id))
}

// CurrentID returns the published snapshot id.
func (s *Store) CurrentID() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, CurrentFileName))
	if os.IsNotExist(err) {
		return "", ErrNoCurrentSnapshot
	}
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoCurrentSnapshot
	}
	return id, nil
}

func (s *Store) setCurrent(id string) error {
	return persistence.WriteFileAtomic(filepath.Join(s.root, CurrentFileName), []byte(id+"\n"), 0o644)
}

// List returns the ids of all Ready snapshots, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Open opens a snapshot by id.
func (s *Store) Open(id string, optFns ...func(*OpenOptions)) (*Snapshot, error) {
	dir := s.Path(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return Open(dir, optFns...)
}

// OpenCurrent opens the published snapshot.
func (s *Store) OpenCurrent(optFns ...func(*OpenOptions)) (*Snapshot, error) {
	id, err := s.CurrentID()
	if err != nil {
		return nil, err
	}
	return s.Open(id, optFns...)
}

// Delete removes a snapshot as a whole unit. Deleting the current snapshot
// also removes the CURRENT pointer.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	dir := s.Path(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if current, err := s.CurrentID(); err == nil && current == id {
		if err := os.Remove(filepath.Join(s.root, CurrentFileName)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return persistence.SyncDir(s.root)
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid snapshot id: %q", id)
	}
	return nil
}
