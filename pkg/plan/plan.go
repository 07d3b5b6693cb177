package plan

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/emirpasic/gods/maps"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/sergi/go-diff/diffmatchpatch"
	"primamateria.systems/alembic/internal/actions"
	"primamateria.systems/alembic/pkg/components"
)

type componentChanges struct {
	removals []actions.Action
	installs []actions.Action
}

func prioritizeActions(a, b actions.Action) int {
	return cmp.Compare(a.Priority, b.Priority)
}

// Plan is the set of removals and installs that moves a prefix from its
// installed components to a final component list.
type Plan struct {
	size       int
	changesMap maps.Map
	final      []components.Component
	reinstall  bool
	diffs      []diffmatchpatch.Diff
}

func NewPlan() *Plan {
	return &Plan{
		changesMap: treemap.NewWithStringComparator(),
	}
}

func (p *Plan) getChanges(name string) *componentChanges {
	rawChanges, ok := p.changesMap.Get(name)
	if !ok {
		return &componentChanges{}
	}
	return rawChanges.(*componentChanges)
}

func (p *Plan) listComponents() []string {
	results := make([]string, 0, p.changesMap.Size())
	for _, v := range p.changesMap.Keys() {
		results = append(results, v.(string))
	}
	return results
}

func (p *Plan) Add(a actions.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Priority == 0 {
		priority, err := getDefaultPriority(a)
		if err != nil {
			return err
		}
		a.Priority = priority
	}
	name := a.Component.Name()
	changes := p.getChanges(name)
	switch a.Todo {
	case actions.ActionRemove:
		changes.removals = append(changes.removals, a)
	default:
		changes.installs = append(changes.installs, a)
	}
	p.changesMap.Put(name, changes)
	p.size++
	return nil
}

func (p *Plan) Append(a []actions.Action) error {
	for _, todo := range a {
		err := p.Add(todo)
		if err != nil {
			return fmt.Errorf("unable to append actions to plan: %w", err)
		}
	}
	return nil
}

// SetFinal records the component list the prefix will hold after the plan runs.
func (p *Plan) SetFinal(final []components.Component) {
	p.final = slices.Clone(final)
}

func (p *Plan) Final() []components.Component {
	return slices.Clone(p.final)
}

// SetManifestDiff records the textual difference between the installed and
// incoming distribution manifests. A differing manifest forces a full reinstall.
func (p *Plan) SetManifestDiff(oldManifest, newManifest string) {
	dmp := diffmatchpatch.New()
	p.diffs = dmp.DiffCleanupSemantic(dmp.DiffMain(oldManifest, newManifest, false))
	p.reinstall = oldManifest != newManifest
}

func (p *Plan) Reinstall() bool {
	return p.reinstall
}

func (p *Plan) ManifestDiff() string {
	if !p.reinstall {
		return ""
	}
	return diffmatchpatch.New().DiffPrettyText(p.diffs)
}

func (p *Plan) Empty() bool {
	return p.size == 0
}

func (p *Plan) Size() int {
	return p.size
}

// Steps returns every removal ahead of every install, each group ordered by component name.
func (p *Plan) Steps() []actions.Action {
	var steps []actions.Action
	sortedComps := p.listComponents()
	for _, k := range sortedComps {
		steps = append(steps, p.getChanges(k).removals...)
	}
	for _, k := range sortedComps {
		steps = append(steps, p.getChanges(k).installs...)
	}
	slices.SortStableFunc(steps, prioritizeActions)
	return steps
}

func (p *Plan) Removals() []components.Component {
	return p.filter(actions.ActionRemove)
}

func (p *Plan) Installs() []components.Component {
	return p.filter(actions.ActionInstall)
}

func (p *Plan) filter(todo actions.ActionType) []components.Component {
	var results []components.Component
	for _, a := range p.Steps() {
		if a.Todo == todo {
			results = append(results, a.Component)
		}
	}
	return results
}

func (p *Plan) Pretty() string {
	if p.Empty() {
		return "Nothing to do"
	}
	var result string
	steps := p.Steps()
	result += "Plan: \n"
	for i, a := range steps {
		result += fmt.Sprintf("%v. %v\n", i+1, a.Pretty())
	}
	return result
}

func (p *Plan) ToJson() ([]byte, error) {
	return json.Marshal(struct {
		Reinstall bool                   `json:"reinstall"`
		Steps     []actions.Action       `json:"steps"`
		Final     []components.Component `json:"final"`
	}{
		Reinstall: p.reinstall,
		Steps:     p.Steps(),
		Final:     p.final,
	})
}

func (p *Plan) PrettyLines() []string {
	if p.Empty() {
		return []string{""}
	}
	var result []string
	steps := p.Steps()
	for i, a := range steps {
		result = append(result, fmt.Sprintf("%v. %v", i+1, a.Pretty()))
	}
	return result
}

// Save writes a timestamped TOML summary of the plan to path.
func (p *Plan) Save(path string) error {
	final := make([]string, 0, len(p.final))
	for _, c := range p.final {
		final = append(final, c.Name())
	}
	planOutput := struct {
		Timestamp time.Time `toml:"timestamp"`
		Reinstall bool      `toml:"reinstall"`
		Plan      []string  `toml:"plan"`
		Final     []string  `toml:"final"`
	}{
		Timestamp: time.Now(),
		Reinstall: p.reinstall,
		Plan:      p.PrettyLines(),
		Final:     final,
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	err = toml.NewEncoder(file).Encode(planOutput)
	if err != nil {
		return fmt.Errorf("failed to encode plan to TOML: %w", err)
	}
	return nil
}

func getDefaultPriority(a actions.Action) (int, error) {
	switch a.Todo {
	case actions.ActionRemove:
		return 1, nil
	case actions.ActionInstall:
		return 2, nil
	}
	return -1, fmt.Errorf("invalid action type %v for component %v", a.Todo, a.Component.Name())
}
