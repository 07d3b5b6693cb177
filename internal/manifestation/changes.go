package manifestation

import (
	"errors"
	"fmt"

	"primamateria.systems/alembic/internal/actions"
	"primamateria.systems/alembic/pkg/components"
	"primamateria.systems/alembic/pkg/manifests"
	"primamateria.systems/alembic/pkg/plan"
)

var ErrInvalidChanges = errors.New("invalid extension changes")

// Changes lists the optional extensions to add to or remove from an installation.
type Changes struct {
	AddExtensions    []components.Component
	RemoveExtensions []components.Component
}

func NoChanges() Changes {
	return Changes{}
}

// Validate reports the conditions BuildUpdateLists treats as programmer errors.
// cfg is the installed config and may be nil on a fresh install.
func (c Changes) Validate(pkg *manifests.TargetedPackage, cfg *manifests.Config) error {
	remove := components.NewSet(c.RemoveExtensions...)
	for _, add := range c.AddExtensions {
		if !pkg.IsExtension(add) {
			return fmt.Errorf("%w: %v is not an extension of this toolchain", ErrInvalidChanges, add)
		}
		if remove.Contains(add) {
			return fmt.Errorf("%w: can't both add and remove %v", ErrInvalidChanges, add)
		}
	}
	for _, rm := range c.RemoveExtensions {
		if !pkg.IsExtension(rm) {
			return fmt.Errorf("%w: %v is not an extension of this toolchain", ErrInvalidChanges, rm)
		}
		if cfg == nil {
			return fmt.Errorf("%w: can't remove %v from a fresh install", ErrInvalidChanges, rm)
		}
		if !cfg.Set().Contains(rm) {
			return fmt.Errorf("%w: %v is not installed", ErrInvalidChanges, rm)
		}
	}
	return nil
}

// UpdateLists is the outcome of reconciliation.
type UpdateLists struct {
	Uninstall []components.Component
	Install   []components.Component
	Final     []components.Component
	// Reinstall is set when the manifest changed and everything is replaced.
	Reinstall bool
}

func (l UpdateLists) Empty() bool {
	return len(l.Uninstall) == 0 && len(l.Install) == 0
}

// BuildUpdateLists decides which components to uninstall and install, and the
// list left installed afterwards. A manifest that differs from oldM (including
// a nil oldM) replaces every installed component. Changes that fail
// Changes.Validate panic.
func BuildUpdateLists(newM, oldM *manifests.Manifest, cfg *manifests.Config, changes Changes, pkg *manifests.TargetedPackage) UpdateLists {
	if err := changes.Validate(pkg, cfg); err != nil {
		panic(err)
	}

	starting := components.NewSet()
	if cfg != nil {
		starting.Add(cfg.Components...)
	}
	removed := components.NewSet(changes.RemoveExtensions...)

	final := components.NewSet(pkg.Components...)
	final.Add(changes.AddExtensions...)
	for _, c := range starting.Values() {
		if pkg.IsExtension(c) && !removed.Contains(c) && !final.Contains(c) {
			final.Add(c)
		}
	}

	lists := UpdateLists{Final: final.Values()}
	if !newM.Equal(oldM) {
		lists.Reinstall = true
		lists.Uninstall = starting.Values()
		lists.Install = final.Values()
		return lists
	}
	lists.Uninstall = starting.Difference(final).Values()
	lists.Install = final.Difference(starting).Values()
	return lists
}

// Plan renders the lists as remove and install actions.
func (l UpdateLists) Plan(changes Changes) (*plan.Plan, error) {
	requested := components.NewSet(changes.AddExtensions...)
	dropped := components.NewSet(changes.RemoveExtensions...)

	p := plan.NewPlan()
	for _, c := range l.Uninstall {
		reason := actions.ReasonObsolete
		switch {
		case l.Reinstall:
			reason = actions.ReasonReinstall
		case dropped.Contains(c):
			reason = actions.ReasonUnrequired
		}
		if err := p.Add(actions.Action{Todo: actions.ActionRemove, Component: c, Reason: reason}); err != nil {
			return nil, err
		}
	}
	for _, c := range l.Install {
		reason := actions.ReasonRequired
		switch {
		case requested.Contains(c):
			reason = actions.ReasonRequested
		case l.Reinstall && len(l.Uninstall) > 0:
			reason = actions.ReasonReinstall
		}
		if err := p.Add(actions.Action{Todo: actions.ActionInstall, Component: c, Reason: reason}); err != nil {
			return nil, err
		}
	}
	p.SetFinal(l.Final)
	return p, nil
}
