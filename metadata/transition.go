package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/mohitkumar/agentflow/model"
)

// NextStep picks the successor of step. Branch conditions are javascript
// evaluated with $ bound to scope; the first truthy branch wins, otherwise
// OnSuccess is used.
func (f *Flow) NextStep(step *model.StepConfig, scope map[string]any) (string, error) {
	if len(step.Transition.Branches) == 0 {
		return step.Transition.OnSuccess, nil
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return "", fmt.Errorf("error encoding branch scope for step %s: %w", step.Id, err)
	}
	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;", data)); err != nil {
		return "", fmt.Errorf("error preparing branch scope for step %s: %w", step.Id, err)
	}
	for i, b := range step.Transition.Branches {
		val, err := vm.RunString(b.When)
		if err != nil {
			return "", fmt.Errorf("error evaluating branch %d of step %s: %w", i, step.Id, err)
		}
		if val.ToBoolean() {
			return b.Next, nil
		}
	}
	return step.Transition.OnSuccess, nil
}
