package transaction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"primamateria.systems/alembic/internal/notify"
	"primamateria.systems/alembic/internal/prefix"
	"primamateria.systems/alembic/internal/temp"
)

type state int

const (
	stateOpen state = iota
	stateCommitted
	stateRolledBack
)

// Transaction stages reversible changes to an install prefix.
//
// Changes are applied to the prefix immediately and undone in reverse order by
// Rollback. Callers defer Settle right after New; once Commit has run the
// deferred Settle does nothing.
//
//	tx := transaction.New(p, tmp, sink)
//	defer tx.Settle(&err)
//	...
//	return tx.Commit()
type Transaction struct {
	id       string
	prefix   prefix.InstallPrefix
	temp     *temp.Area
	notify   notify.Sink
	changes  []change
	modified map[string]struct{}
	state    state
}

func New(p prefix.InstallPrefix, tmp *temp.Area, sink notify.Sink) *Transaction {
	return &Transaction{
		id:       uuid.NewString(),
		prefix:   p,
		temp:     tmp,
		notify:   notify.OrNop(sink),
		modified: make(map[string]struct{}),
	}
}

func (tx *Transaction) ID() string {
	return tx.id
}

func (tx *Transaction) Prefix() prefix.InstallPrefix {
	return tx.prefix
}

// Pending is the number of staged changes that Rollback would undo.
func (tx *Transaction) Pending() int {
	if tx.state != stateOpen {
		return 0
	}
	return len(tx.changes)
}

func (tx *Transaction) Open() bool {
	return tx.state == stateOpen
}

func (tx *Transaction) check(path string) error {
	if tx.state != stateOpen {
		return ErrTransactionClosed
	}
	if !filepath.IsLocal(path) {
		return fmt.Errorf("%w: %v", ErrInvalidPath, path)
	}
	return nil
}

func (tx *Transaction) record(c change) {
	log.Debug("staged change", "tx", tx.id, "kind", c.kind, "component", c.component, "path", c.path)
	tx.changes = append(tx.changes, c)
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (tx *Transaction) checkConflict(component, path string) error {
	found, err := exists(tx.prefix.Abs(path))
	if err != nil {
		return err
	}
	if found {
		return &ComponentConflictError{Name: component, Path: path}
	}
	return nil
}

// ensureRoot creates the prefix directory when it is missing and records it,
// so rolling back a first install leaves no prefix behind. Directories above
// the prefix are created as needed and stay.
func (tx *Transaction) ensureRoot() error {
	root := tx.prefix.Path()
	found, err := exists(root)
	if err != nil || found {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return fmt.Errorf("error creating prefix: %w", err)
	}
	tx.notify.Notify(notify.New(notify.KindCreatingDirectory, "creating prefix", "path", root))
	if err := os.Mkdir(root, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("error creating prefix: %w", err)
	}
	tx.record(change{kind: changeCreatedParent, path: "."})
	return nil
}

// ensureParent creates the missing parent directories of path, recording each one.
func (tx *Transaction) ensureParent(path string) error {
	if err := tx.ensureRoot(); err != nil {
		return err
	}
	var missing []string
	for dir := filepath.Dir(path); dir != "."; dir = filepath.Dir(dir) {
		found, err := exists(tx.prefix.Abs(dir))
		if err != nil {
			return err
		}
		if found {
			break
		}
		missing = append(missing, dir)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]
		tx.notify.Notify(notify.New(notify.KindCreatingDirectory, "creating directory", "path", dir))
		if err := os.Mkdir(tx.prefix.Abs(dir), 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return err
		}
		tx.record(change{kind: changeCreatedParent, path: dir})
	}
	return nil
}

// AddFile creates an empty file for the caller to write.
func (tx *Transaction) AddFile(component, path string) (*os.File, error) {
	if err := tx.check(path); err != nil {
		return nil, err
	}
	if err := tx.checkConflict(component, path); err != nil {
		return nil, err
	}
	if err := tx.ensureParent(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(tx.prefix.Abs(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	tx.record(change{kind: changeAddedFile, component: component, path: path})
	return f, nil
}

func (tx *Transaction) CopyFile(component, path, src string) error {
	if err := tx.check(path); err != nil {
		return err
	}
	if err := tx.checkConflict(component, path); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := tx.ensureParent(path); err != nil {
		return err
	}
	abs := tx.prefix.Abs(path)
	if err := copyFile(src, abs, info.Mode().Perm()); err != nil {
		_ = os.Remove(abs)
		return err
	}
	tx.record(change{kind: changeAddedFile, component: component, path: path})
	return nil
}

func (tx *Transaction) CopyDir(component, path, src string) error {
	if err := tx.check(path); err != nil {
		return err
	}
	if err := tx.checkConflict(component, path); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("error copying %v: not a directory", src)
	}
	if err := tx.ensureParent(path); err != nil {
		return err
	}
	abs := tx.prefix.Abs(path)
	if err := copyDir(src, abs); err != nil {
		_ = os.RemoveAll(abs)
		return err
	}
	tx.record(change{kind: changeAddedDir, component: component, path: path})
	return nil
}

func (tx *Transaction) WriteFile(component, path string, content []byte) error {
	f, err := tx.AddFile(component, path)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (tx *Transaction) RemoveFile(component, path string) error {
	if err := tx.check(path); err != nil {
		return err
	}
	abs := tx.prefix.Abs(path)
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return &ComponentMissingFileError{Name: component, Path: path}
	}
	if err != nil {
		return err
	}
	backup, err := tx.temp.NewFilePath("")
	if err != nil {
		return err
	}
	if err := move(abs, backup); err != nil {
		return fmt.Errorf("error backing up %v: %w", path, err)
	}
	tx.record(change{kind: changeRemovedFile, component: component, path: path, backup: backup})
	return nil
}

func (tx *Transaction) RemoveDir(component, path string) error {
	if err := tx.check(path); err != nil {
		return err
	}
	abs := tx.prefix.Abs(path)
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return &ComponentMissingDirError{Name: component, Path: path}
	}
	if err != nil {
		return err
	}
	backup, err := tx.temp.NewFilePath("")
	if err != nil {
		return err
	}
	if err := move(abs, backup); err != nil {
		return fmt.Errorf("error backing up %v: %w", path, err)
	}
	tx.record(change{kind: changeRemovedDir, component: component, path: path, backup: backup})
	return nil
}

// ModifyFile declares that path is about to be rewritten in place. The first
// call for a path takes the backup; later calls keep it. A missing path gets
// its parent created and is deleted again on rollback.
func (tx *Transaction) ModifyFile(path string) error {
	if err := tx.check(path); err != nil {
		return err
	}
	if _, ok := tx.modified[path]; ok {
		return nil
	}
	abs := tx.prefix.Abs(path)
	info, err := os.Stat(abs)
	switch {
	case err == nil:
		if info.IsDir() {
			return fmt.Errorf("can't modify directory %v", path)
		}
		backup, err := tx.temp.NewFilePath("")
		if err != nil {
			return err
		}
		if err := copyFile(abs, backup, info.Mode().Perm()); err != nil {
			return fmt.Errorf("error backing up %v: %w", path, err)
		}
		tx.record(change{kind: changeModifiedFile, path: path, backup: backup})
	case errors.Is(err, fs.ErrNotExist):
		if err := tx.ensureParent(path); err != nil {
			return err
		}
		tx.record(change{kind: changeModifiedFile, path: path})
	default:
		return err
	}
	tx.modified[path] = struct{}{}
	return nil
}

func (tx *Transaction) releaseBackups() {
	for _, c := range tx.changes {
		if c.backup == "" {
			continue
		}
		if err := tx.temp.Release(c.backup); err != nil {
			tx.notify.Notify(notify.New(notify.KindTempCleanupFailed, "failed to remove backup", "path", c.backup, "err", err))
		}
	}
}

// Commit makes every staged change permanent.
func (tx *Transaction) Commit() error {
	if tx.state != stateOpen {
		return ErrTransactionClosed
	}
	tx.state = stateCommitted
	tx.releaseBackups()
	tx.notify.Notify(notify.New(notify.KindTransactionCommitted, "transaction committed", "tx", tx.id, "changes", len(tx.changes)))
	tx.changes = nil
	return nil
}

// Rollback undoes every staged change, newest first. A failing step does not
// stop the remaining ones; all failures are returned joined. Rollback after
// Commit or a previous Rollback is a no-op.
func (tx *Transaction) Rollback() error {
	if tx.state != stateOpen {
		return nil
	}
	tx.state = stateRolledBack
	if len(tx.changes) > 0 {
		tx.notify.Notify(notify.New(notify.KindRollingBack, "rolling back changes", "tx", tx.id, "changes", len(tx.changes)))
	}
	var errs []error
	for i := len(tx.changes) - 1; i >= 0; i-- {
		c := tx.changes[i]
		if err := tx.undo(c); err != nil {
			err = fmt.Errorf("error undoing %v of %v: %w", c.kind, c.path, err)
			tx.notify.Notify(notify.New(notify.KindRollbackFailed, "rollback step failed", "path", c.path, "err", err))
			errs = append(errs, err)
		}
	}
	tx.releaseBackups()
	tx.changes = nil
	return errors.Join(errs...)
}

// Settle rolls tx back unless it was committed, joining rollback failures into
// *err. It reports whether a rollback ran. Meant to be deferred with a named
// error result:
//
//	defer tx.Settle(&err)
func (tx *Transaction) Settle(err *error) bool {
	if tx.state != stateOpen {
		return false
	}
	if rerr := tx.Rollback(); rerr != nil {
		log.Error("rollback failed", "tx", tx.id, "err", rerr)
		*err = errors.Join(*err, rerr)
	}
	return true
}
