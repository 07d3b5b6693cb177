package plan

import (
	"fmt"

	"primamateria.systems/alembic/internal/actions"
	"primamateria.systems/alembic/pkg/components"
)

type ValidationStep interface {
	Validate(plan []actions.Action) error
}

type PlanValidatorPipeline struct {
	stages []ValidationStep
}

func (p *PlanValidatorPipeline) Validate(plan *Plan) error {
	steps := plan.Steps()
	for _, v := range p.stages {
		if err := v.Validate(steps); err != nil {
			return err
		}
	}
	return nil
}

func NewDefaultValidationPipeline(installed, final []components.Component) *PlanValidatorPipeline {
	return &PlanValidatorPipeline{
		stages: []ValidationStep{
			&ComponentStateValidator{installed},
			&FinalStateValidator{installed, final},
		},
	}
}

// ComponentStateValidator rejects removing a component that is not installed
// and installing one that already is.
type ComponentStateValidator struct {
	installed []components.Component
}

func (s *ComponentStateValidator) Validate(steps []actions.Action) error {
	state := components.NewSet(s.installed...)
	currentStep := 1
	maxSteps := len(steps)
	for _, a := range steps {
		switch a.Todo {
		case actions.ActionRemove:
			if !state.Contains(a.Component) {
				return fmt.Errorf("%v/%v: invalid plan: removing %v which is not installed", currentStep, maxSteps, a.Component)
			}
			state.Remove(a.Component)
		case actions.ActionInstall:
			if state.Contains(a.Component) {
				return fmt.Errorf("%v/%v: invalid plan: installing %v which is already installed", currentStep, maxSteps, a.Component)
			}
			state.Add(a.Component)
		}
		currentStep++
	}
	return nil
}

// FinalStateValidator checks that running the plan over the installed
// components leaves exactly the final list.
type FinalStateValidator struct {
	installed []components.Component
	final     []components.Component
}

func (s *FinalStateValidator) Validate(steps []actions.Action) error {
	state := components.NewSet(s.installed...)
	for _, a := range steps {
		switch a.Todo {
		case actions.ActionRemove:
			state.Remove(a.Component)
		case actions.ActionInstall:
			state.Add(a.Component)
		}
	}
	want := components.NewSet(s.final...)
	if missing := want.Difference(state); !missing.Empty() {
		return fmt.Errorf("invalid plan: final components %v are never installed", missing)
	}
	if extra := state.Difference(want); !extra.Empty() {
		return fmt.Errorf("invalid plan: components %v remain installed but are not in the final list", extra)
	}
	return nil
}
