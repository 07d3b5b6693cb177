package temp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Area hands out uniquely named files and directories under one root and
// removes every one of them on Close.
type Area struct {
	root    string
	mu      sync.Mutex
	entries []string
	closed  bool
}

var ErrAreaClosed = errors.New("temp area closed")

func NewArea(root string) (*Area, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("error creating temp root: %w", err)
	}
	return &Area{root: root}, nil
}

func (a *Area) Root() string {
	return a.root
}

func (a *Area) track(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAreaClosed
	}
	a.entries = append(a.entries, path)
	return nil
}

// NewFilePath reserves a unique file name without creating it.
func (a *Area) NewFilePath(suffix string) (string, error) {
	path := filepath.Join(a.root, fmt.Sprintf("alembic-%v%v", uuid.NewString(), suffix))
	if err := a.track(path); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Area) NewFile(suffix string) (*os.File, error) {
	path, err := a.NewFilePath(suffix)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
}

func (a *Area) NewDir() (string, error) {
	path := filepath.Join(a.root, fmt.Sprintf("alembic-%v", uuid.NewString()))
	if err := a.track(path); err != nil {
		return "", err
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Release removes a single entry early.
func (a *Area) Release(path string) error {
	err := os.RemoveAll(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for _, e := range a.entries {
		log.Debug("removing temp entry", "path", e)
		if err := os.RemoveAll(e); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	a.entries = nil
	return errors.Join(errs...)
}
