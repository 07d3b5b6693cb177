package transaction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type changeKind int

const (
	changeUnknown changeKind = iota

	changeAddedFile
	changeAddedDir
	changeCreatedParent
	changeRemovedFile
	changeRemovedDir
	changeModifiedFile
)

func (k changeKind) String() string {
	switch k {
	case changeAddedFile:
		return "AddedFile"
	case changeAddedDir:
		return "AddedDir"
	case changeCreatedParent:
		return "CreatedParent"
	case changeRemovedFile:
		return "RemovedFile"
	case changeRemovedDir:
		return "RemovedDir"
	case changeModifiedFile:
		return "ModifiedFile"
	default:
		return "Unknown"
	}
}

// change is one staged filesystem mutation. backup is a temp area path, empty when none was taken.
type change struct {
	kind      changeKind
	component string
	path      string
	backup    string
}

type undoHandler func(*Transaction, change) error

var undoHandlers = map[changeKind]undoHandler{
	changeAddedFile:     undoAddedFile,
	changeAddedDir:      undoAddedDir,
	changeCreatedParent: undoCreatedParent,
	changeRemovedFile:   undoRemoved,
	changeRemovedDir:    undoRemoved,
	changeModifiedFile:  undoModifiedFile,
}

func undoAddedFile(tx *Transaction, c change) error {
	return os.Remove(tx.prefix.Abs(c.path))
}

func undoAddedDir(tx *Transaction, c change) error {
	abs := tx.prefix.Abs(c.path)
	if _, err := os.Lstat(abs); err != nil {
		return err
	}
	return os.RemoveAll(abs)
}

func undoCreatedParent(tx *Transaction, c change) error {
	err := os.Remove(tx.prefix.Abs(c.path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func undoRemoved(tx *Transaction, c change) error {
	abs := tx.prefix.Abs(c.path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return move(c.backup, abs)
}

func undoModifiedFile(tx *Transaction, c change) error {
	abs := tx.prefix.Abs(c.path)
	if c.backup == "" {
		err := os.Remove(abs)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	info, err := os.Stat(c.backup)
	if err != nil {
		return err
	}
	return copyFile(c.backup, abs, info.Mode().Perm())
}

func (tx *Transaction) undo(c change) error {
	handler, ok := undoHandlers[c.kind]
	if !ok {
		return fmt.Errorf("no undo handler for change %v", c.kind)
	}
	return handler(tx, c)
}
