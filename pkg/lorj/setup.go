package lorj

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Question is one Setup prompt.
type Question struct {
	Key       string
	Desc      string
	Default   string
	Encrypted bool
	Required  bool
	Choices   []string
	Step      int
	Level     int
}

// Prompter asks the user one question. It must return ctx.Err() once ctx is
// done.
type Prompter interface {
	Ask(ctx context.Context, q Question) (string, error)
}

// SetupItem is an account key placed in the plan.
type SetupItem struct {
	Meta  DataMeta
	Level int
}

// SetupStep groups the items of one step by level.
type SetupStep struct {
	Index  int
	Levels [][]SetupItem
}

// SetupPlan is the ordered list of account keys Setup asks for.
type SetupPlan struct {
	Steps []SetupStep
}

// Keys returns the keys in asking order.
func (p *SetupPlan) Keys() []string {
	var out []string
	for _, s := range p.Steps {
		for _, lvl := range s.Levels {
			for _, it := range lvl {
				out = append(out, it.Meta.Key)
			}
		}
	}
	return out
}

// Plan collects the account data needed by root and its dependencies, and
// places every key one level after the deepest key it depends on.
func (d *Dispatcher) Plan(root ObjectType) (*SetupPlan, error) {
	if !d.reg.Has(root) {
		return nil, unknownTypeError(root, "setup")
	}

	metas := map[string]DataMeta{}
	for _, t := range d.reg.Walk(root) {
		for _, n := range d.reg.Needs(t) {
			if n.Kind != NeedData {
				continue
			}
			m, ok := d.reg.Meta(n.Key)
			if !ok || !m.Account {
				continue
			}
			metas[n.Key] = m
		}
	}

	// A key is asked in its own step or in the step of its latest
	// dependency, one level after the deepest dependency of that step.
	type place struct{ step, level int }
	places := make(map[string]place, len(metas))
	visiting := map[string]bool{}
	var locate func(key string) (place, error)
	locate = func(key string) (place, error) {
		if p, ok := places[key]; ok {
			return p, nil
		}
		if visiting[key] {
			return place{}, declarationError("data '%s' depends on itself", key)
		}
		visiting[key] = true
		defer delete(visiting, key)

		p := place{step: metas[key].Step}
		var deps []place
		for _, dep := range metas[key].DependsOn {
			if _, ok := metas[dep]; !ok {
				continue
			}
			dp, err := locate(dep)
			if err != nil {
				return place{}, err
			}
			if dp.step > p.step {
				p.step = dp.step
			}
			deps = append(deps, dp)
		}
		for _, dp := range deps {
			if dp.step == p.step && dp.level+1 > p.level {
				p.level = dp.level + 1
			}
		}
		places[key] = p
		return p, nil
	}

	byStep := map[int]map[int][]SetupItem{}
	for key, m := range metas {
		p, err := locate(key)
		if err != nil {
			return nil, err
		}
		if p.step != m.Step {
			d.logger.Debug().Str("key", key).Int("step", p.step).Msg("Key moved to the step of its dependency")
		}
		if byStep[p.step] == nil {
			byStep[p.step] = map[int][]SetupItem{}
		}
		byStep[p.step][p.level] = append(byStep[p.step][p.level], SetupItem{Meta: m, Level: p.level})
	}

	plan := &SetupPlan{}
	for _, step := range sortedInts(byStep) {
		s := SetupStep{Index: step}
		lv := byStep[step]
		maxLevel := 0
		for l := range lv {
			if l > maxLevel {
				maxLevel = l
			}
		}
		for l := 0; l <= maxLevel; l++ {
			items := lv[l]
			if len(items) == 0 {
				continue
			}
			sort.Slice(items, func(i, j int) bool {
				if items[i].Meta.Order != items[j].Meta.Order {
					return items[i].Meta.Order < items[j].Meta.Order
				}
				return items[i].Meta.Key < items[j].Meta.Key
			})
			s.Levels = append(s.Levels, items)
		}
		plan.Steps = append(plan.Steps, s)
	}
	return plan, nil
}

func sortedInts[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Setup asks every account key of the plan of root, validates the answers
// and writes them to the account layer.
func (d *Dispatcher) Setup(ctx context.Context, root ObjectType) error {
	if d.prompter == nil {
		return NewPermanentError("setup requires a prompter", nil)
	}
	plan, err := d.Plan(root)
	if err != nil {
		return err
	}

	for _, step := range plan.Steps {
		for _, lvl := range step.Levels {
			for _, it := range lvl {
				if err := d.ask(ctx, step.Index, it); err != nil {
					return err
				}
			}
		}
	}
	d.logger.Info().Str("object", string(root)).Int("keys", len(plan.Keys())).Msg("Setup completed")
	return nil
}

// Ask forwards one question to the prompter.
func (d *Dispatcher) Ask(ctx context.Context, q Question) (string, error) {
	if d.prompter == nil {
		return "", NewPermanentError(fmt.Sprintf("no prompter to ask for '%s'", q.Key), nil)
	}
	return d.prompter.Ask(ctx, q)
}

func (d *Dispatcher) ask(ctx context.Context, step int, it SetupItem) error {
	m := it.Meta
	if m.Readonly {
		return nil
	}

	def := ""
	if v, ok := d.cfg.Get(m.Key); ok && v != nil {
		def = fmt.Sprint(v)
	} else if m.Default != nil {
		def = fmt.Sprint(m.Default)
	}

	choices, strict, err := d.choices(ctx, m)
	if err != nil {
		return err
	}
	if len(choices) > 0 && !strict {
		choices = append(choices, choiceOther)
	}

	q := Question{
		Key:       m.Key,
		Desc:      m.Desc,
		Default:   def,
		Encrypted: m.Encrypted,
		Required:  m.Required,
		Choices:   choices,
		Step:      step,
		Level:     it.Level,
	}
	if q.Desc == "" {
		q.Desc = m.Key
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		answer, err := d.prompter.Ask(ctx, q)
		if err != nil {
			return err
		}
		answer = strings.TrimSpace(answer)
		if answer == choiceOther && len(q.Choices) > 0 {
			q.Choices = nil
			continue
		}
		if answer == "" {
			answer = def
		}
		if strict {
			m.ListValues, m.ListStrict = choices, true
		}
		if verr := validateAnswer(m, answer); verr != nil {
			if HasCode(verr, ErrCodeDeclaration) {
				return verr
			}
			d.logger.Warn().Err(verr).Str("key", m.Key).Msg("Invalid value, asking again")
			continue
		}
		if answer == "" {
			return nil
		}
		return d.cfg.SetAccount(m.Key, answer)
	}
}

// choiceOther lets the user type a value missing from a listed set.
const choiceOther = "other"

// choices returns the values offered for m and whether the answer must be
// one of them.
func (d *Dispatcher) choices(ctx context.Context, m DataMeta) ([]string, bool, error) {
	src := m.ListFrom
	if src == nil {
		return m.ListValues, m.ListStrict, nil
	}

	list, err := d.listValues(ctx, src)
	switch {
	case err != nil && src.Strict:
		return nil, true, NewPermanentError(fmt.Sprintf("'%s' requires a value from '%s'", m.Key, src.Object), err).
			WithObject(src.Object).WithOperation("setup")
	case err != nil:
		d.logger.Warn().Err(err).Str("key", m.Key).Str("object", string(src.Object)).
			Msg("Unable to list the values, asking for a free value")
		return nil, false, nil
	case len(list) == 0 && src.Strict:
		return nil, true, NewPermanentError(
			fmt.Sprintf("'%s' requires a value from the '%s' query which is empty", m.Key, src.Object), nil).
			WithObject(src.Object).WithOperation("setup")
	}
	return list, src.Strict, nil
}

func (d *Dispatcher) listValues(ctx context.Context, src *ListSource) ([]string, error) {
	if src.Values == nil {
		attr := src.Attr
		if attr == "" {
			attr = "name"
		}
		list, err := d.Query(ctx, src.Object, src.Query)
		if err != nil || list == nil {
			return nil, err
		}
		var out []string
		for _, it := range list.Items() {
			if v := it.GetString(attr); v != "" {
				out = append(out, v)
			}
		}
		return out, nil
	}

	obj, ok := d.Object(src.Object)
	if !ok {
		var err error
		if obj, err = d.Create(ctx, src.Object); err != nil {
			return nil, err
		}
	}
	return src.Values(ctx, d, obj)
}

func validateAnswer(m DataMeta, answer string) error {
	if answer == "" {
		if m.Required {
			return fmt.Errorf("'%s' is required", m.Key)
		}
		return nil
	}
	if m.Validate != "" {
		re, err := regexp.Compile(m.Validate)
		if err != nil {
			return declarationError("'%s' has an invalid validation pattern: %v", m.Key, err)
		}
		if !re.MatchString(answer) {
			return fmt.Errorf("'%s' must match %s", m.Key, m.Validate)
		}
	}
	if m.ListStrict && len(m.ListValues) > 0 && !slices.Contains(m.ListValues, answer) {
		return fmt.Errorf("'%s' must be one of %s", m.Key, strings.Join(m.ListValues, ", "))
	}
	if m.PostValidate != nil {
		return m.PostValidate(answer)
	}
	return nil
}
