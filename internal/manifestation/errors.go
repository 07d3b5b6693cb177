package manifestation

import (
	"fmt"

	"primamateria.systems/alembic/pkg/components"
)

type ChecksumFailedError struct {
	URL        string
	Expected   string
	Calculated string
}

func (e *ChecksumFailedError) Error() string {
	return fmt.Sprintf("checksum failed for %v: expected %v, calculated %v", e.URL, e.Expected, e.Calculated)
}

type ComponentDownloadFailedError struct {
	Component components.Component
	Err       error
}

func (e *ComponentDownloadFailedError) Error() string {
	return fmt.Sprintf("failed to download component %v: %v", e.Component, e.Err)
}

func (e *ComponentDownloadFailedError) Unwrap() error {
	return e.Err
}
