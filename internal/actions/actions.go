package actions

import (
	"encoding/json"
	"errors"
	"fmt"

	"primamateria.systems/alembic/pkg/components"
)

type ActionType int

const (
	ActionUnknown ActionType = iota

	ActionInstall
	ActionRemove
)

func (t ActionType) String() string {
	switch t {
	case ActionInstall:
		return "Install"
	case ActionRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

func (t ActionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ActionType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Install":
		*t = ActionInstall
	case "Remove":
		*t = ActionRemove
	default:
		return fmt.Errorf("unknown action type %q", text)
	}
	return nil
}

// Reason records why a component ended up in a plan.
type Reason string

const (
	ReasonRequired   Reason = "required"
	ReasonRequested  Reason = "requested"
	ReasonObsolete   Reason = "obsolete"
	ReasonReinstall  Reason = "reinstall"
	ReasonUnrequired Reason = "removed"
)

type Action struct {
	Todo      ActionType           `json:"todo" toml:"todo"`
	Component components.Component `json:"component" toml:"component"`
	Reason    Reason               `json:"reason,omitempty" toml:"reason,omitempty"`
	Priority  int                  `json:"priority" toml:"priority"`
}

func (a Action) Validate() error {
	if a.Todo == ActionUnknown {
		return errors.New("unknown action")
	}
	if err := a.Component.Validate(); err != nil {
		return fmt.Errorf("invalid component for action: %w", err)
	}
	return nil
}

func (a *Action) String() string {
	return fmt.Sprintf("{a %v %v }", a.Todo, a.Component.Name())
}

func (a *Action) Pretty() string {
	if a.Reason == "" {
		return fmt.Sprintf("%v %v", a.Todo, a.Component.Name())
	}
	return fmt.Sprintf("%v %v (%v)", a.Todo, a.Component.Name(), a.Reason)
}

func (a *Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Todo      ActionType
		Component string
		Reason    Reason `json:",omitempty"`
		Priority  int
	}{
		Todo:      a.Todo,
		Component: a.Component.Name(),
		Reason:    a.Reason,
		Priority:  a.Priority,
	})
}
