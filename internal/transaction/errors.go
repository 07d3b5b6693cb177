package transaction

import (
	"errors"
	"fmt"
)

var (
	ErrTransactionClosed = errors.New("transaction already committed or rolled back")
	ErrInvalidPath       = errors.New("path escapes install prefix")
)

// ComponentConflictError is returned when a component tries to create a path that already exists.
type ComponentConflictError struct {
	Name string
	Path string
}

func (e *ComponentConflictError) Error() string {
	return fmt.Sprintf("failed to install component: '%v', detected conflict: '%v'", e.Name, e.Path)
}

type ComponentMissingFileError struct {
	Name string
	Path string
}

func (e *ComponentMissingFileError) Error() string {
	return fmt.Sprintf("failure removing component '%v', file does not exist: '%v'", e.Name, e.Path)
}

type ComponentMissingDirError struct {
	Name string
	Path string
}

func (e *ComponentMissingDirError) Error() string {
	return fmt.Sprintf("failure removing component '%v', directory does not exist: '%v'", e.Name, e.Path)
}
