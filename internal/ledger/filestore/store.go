package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/compose-network/mortar/internal/infra/filesystem"
	fsjson "github.com/compose-network/mortar/internal/infra/filesystem/json"
	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

const (
	fileExtension     = ".json"
	lockExtension     = ".lock"
	lockRetryInterval = 200 * time.Millisecond
)

// ErrLocked is returned when another run owns the ledger file.
var ErrLocked = errors.New("ledger file is locked by another run")

// processLocks holds the locks of ledgers kept on a non-OS filesystem.
var processLocks sync.Map

type processLockKey struct {
	fs   afero.Fs
	path string
}

// networkFile is the on-disk layout: one file per network holding every module.
type networkFile struct {
	Modules map[string]*ledger.Entry `json:"modules"`
}

// Store keeps the ledger in <dir>/<network>.json. Every save re-reads the file
// and replaces only the saved module, so entries of other modules survive.
type Store struct {
	mu     sync.Mutex
	fs     afero.Fs
	dir    string
	reader filesystem.Reader
	writer filesystem.Writer
	logger *slog.Logger
}

// New creates a file store rooted at dir on fs.
func New(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:     fs,
		dir:    dir,
		reader: fsjson.NewReader(fs),
		writer: fsjson.NewWriter(fs),
		logger: logger.Named("ledger_file_store"),
	}
}

// Path returns the file holding the given network.
func (s *Store) Path(networkID string) string {
	return filepath.Join(s.dir, networkID+fileExtension)
}

func (s *Store) Load(_ context.Context, key ledger.Key) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read(key.NetworkID)
	if err != nil {
		return nil, err
	}

	entry, ok := file.Modules[key.Module]
	if !ok || entry == nil {
		return ledger.NewEntry(), nil
	}
	if entry.Elements == nil {
		entry.Elements = make(map[string]*ledger.Record)
	}

	return entry, nil
}

func (s *Store) Save(_ context.Context, key ledger.Key, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read(key.NetworkID)
	if err != nil {
		return err
	}
	file.Modules[key.Module] = entry

	path := s.Path(key.NetworkID)
	if err := s.writer.WriteJSON(path, file); err != nil {
		return fmt.Errorf("failed to write ledger file '%s': %w", path, err)
	}

	s.logger.With("path", path).With("module", key.Module).Debug("ledger file written")

	return nil
}

func (s *Store) read(networkID string) (*networkFile, error) {
	path := s.Path(networkID)

	file := &networkFile{}
	if err := s.reader.ReadJSON(path, file); err != nil {
		if !errors.Is(err, filesystem.ErrNotExist) {
			return nil, fmt.Errorf("failed to read ledger file '%s': %w", path, err)
		}
	}
	if file.Modules == nil {
		file.Modules = make(map[string]*ledger.Entry)
	}

	return file, nil
}

// Lock takes an exclusive lock on the network's ledger file for the duration
// of a run. The returned function releases it. On the OS filesystem this is a
// flock on <file>.lock; any other filesystem only exists inside this process,
// so the lock is held in memory and nothing is written to disk.
func (s *Store) Lock(ctx context.Context, networkID string, wait time.Duration) (func() error, error) {
	lockPath := s.Path(networkID) + lockExtension
	if err := s.fs.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	var fileLock locker = flock.New(lockPath)
	if _, ok := s.fs.(*afero.OsFs); !ok {
		fileLock = &processLock{key: processLockKey{fs: s.fs, path: lockPath}}
	}

	lockCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	var (
		locked bool
		err    error
	)
	if wait > 0 {
		locked, err = fileLock.TryLockContext(lockCtx, lockRetryInterval)
	} else {
		locked, err = fileLock.TryLock()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("failed to lock '%s': %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}

	s.logger.With("path", lockPath).Debug("ledger lock acquired")

	return fileLock.Unlock, nil
}

type locker interface {
	TryLock() (bool, error)
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)
	Unlock() error
}

type processLock struct {
	key processLockKey
}

func (l *processLock) TryLock() (bool, error) {
	_, held := processLocks.LoadOrStore(l.key, struct{}{})
	return !held, nil
}

func (l *processLock) TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error) {
	for {
		if locked, _ := l.TryLock(); locked {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func (l *processLock) Unlock() error {
	processLocks.Delete(l.key)
	return nil
}
