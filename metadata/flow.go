package metadata

import (
	"fmt"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/model"
)

// Flow is a validated definition with constant time step lookup.
type Flow struct {
	Definition          model.FlowDefinition
	steps               map[string]*model.StepConfig
	requiresInteraction bool
}

// Compile validates the structure of def. It does not check that the
// referenced agents exist.
func Compile(def model.FlowDefinition) (*Flow, error) {
	if def.Id == "" {
		return nil, api.ValidationError{Field: "id", Message: "flow definition id can not be empty"}
	}
	if len(def.Steps) == 0 {
		return nil, api.ValidationError{Field: "steps", Message: fmt.Sprintf("flow %s has no steps", def.Id)}
	}
	fl := &Flow{
		Definition: def,
		steps:      make(map[string]*model.StepConfig, len(def.Steps)),
	}
	fl.Definition.Steps = append([]model.StepConfig(nil), def.Steps...)
	for i := range def.Steps {
		step := &fl.Definition.Steps[i]
		if step.Id == "" {
			return nil, api.ValidationError{Field: "steps", Message: fmt.Sprintf("step %d has no id", i)}
		}
		if step.Id == model.TRANSITION_COMPLETE {
			return nil, api.ValidationError{Field: "steps", Message: fmt.Sprintf("step id %s is reserved", step.Id)}
		}
		if _, ok := fl.steps[step.Id]; ok {
			return nil, api.ValidationError{Field: "steps", Message: fmt.Sprintf("step id %s is duplicate", step.Id)}
		}
		if step.AgentVersionId == "" {
			return nil, api.ValidationError{Field: "steps", Message: fmt.Sprintf("step %s has no agent version", step.Id)}
		}
		for _, r := range step.MemoryReads {
			if r.Channel == "" {
				return nil, api.ValidationError{Field: "memoryReads", Message: fmt.Sprintf("step %s reads an unnamed channel", step.Id)}
			}
		}
		for _, w := range step.MemoryWrites {
			if w.Channel == "" {
				return nil, api.ValidationError{Field: "memoryWrites", Message: fmt.Sprintf("step %s writes an unnamed channel", step.Id)}
			}
			if w.Mode != model.MEMORY_WRITE_AGENT_OUTPUT && w.Mode != model.MEMORY_WRITE_STATIC {
				return nil, api.ValidationError{Field: "memoryWrites", Message: fmt.Sprintf("step %s has unknown write mode %q", step.Id, w.Mode)}
			}
		}
		if step.Interaction != nil {
			fl.requiresInteraction = true
		}
		fl.steps[step.Id] = step
	}
	if _, ok := fl.steps[def.StartStepId]; !ok {
		return nil, api.ValidationError{Field: "startStepId", Message: fmt.Sprintf("no step with id %q in flow %s", def.StartStepId, def.Id)}
	}
	for _, step := range fl.steps {
		if err := fl.checkTarget(step.Id, step.Transition.OnSuccess); err != nil {
			return nil, err
		}
		for _, b := range step.Transition.Branches {
			if b.When == "" {
				return nil, api.ValidationError{Field: "branches", Message: fmt.Sprintf("step %s has a branch without condition", step.Id)}
			}
			if b.Next == "" {
				return nil, api.ValidationError{Field: "branches", Message: fmt.Sprintf("step %s has a branch without target", step.Id)}
			}
			if err := fl.checkTarget(step.Id, b.Next); err != nil {
				return nil, err
			}
		}
	}
	return fl, nil
}

func (f *Flow) checkTarget(from string, target string) error {
	if target == "" || target == model.TRANSITION_COMPLETE {
		return nil
	}
	if _, ok := f.steps[target]; !ok {
		return api.ValidationError{Field: "transition", Message: fmt.Sprintf("step %s moves to unknown step %s", from, target)}
	}
	return nil
}

func (f *Flow) Step(id string) (*model.StepConfig, bool) {
	s, ok := f.steps[id]
	return s, ok
}

func (f *Flow) StartStep() *model.StepConfig {
	return f.steps[f.Definition.StartStepId]
}

// RequiresInteraction reports whether any step declares a human interaction.
func (f *Flow) RequiresInteraction() bool {
	return f.requiresInteraction
}

// AgentVersionIds lists the distinct agents the flow refers to.
func (f *Flow) AgentVersionIds() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range f.Definition.Steps {
		if !seen[s.AgentVersionId] {
			seen[s.AgentVersionId] = true
			ids = append(ids, s.AgentVersionId)
		}
	}
	return ids
}

// IsComplete reports whether a resolved transition target ends the flow.
func IsComplete(next string) bool {
	return next == "" || next == model.TRANSITION_COMPLETE
}
