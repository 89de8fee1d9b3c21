// Package override merges model request parameters from the agent default,
// the step and the session, in that order of increasing precedence.
package override

import "github.com/mohitkumar/agentflow/model"

// Effective is the merged parameter set sent with an invocation. A nil field
// means the provider default applies.
type Effective struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`

	defaults model.RequestOverrides
}

// Resolve applies defaults, then step, then session. Any layer may be nil.
func Resolve(defaults, step, session *model.RequestOverrides) Effective {
	var eff Effective
	if defaults != nil {
		eff.defaults = *defaults
	}
	for _, layer := range []*model.RequestOverrides{defaults, step, session} {
		if layer == nil {
			continue
		}
		if layer.Temperature != nil {
			v := *layer.Temperature
			eff.Temperature = &v
		}
		if layer.TopP != nil {
			v := *layer.TopP
			eff.TopP = &v
		}
		if layer.MaxTokens != nil {
			v := *layer.MaxTokens
			eff.MaxTokens = &v
		}
	}
	return eff
}

// IsEmpty reports whether the step and session layers left the agent
// defaults unchanged.
func (e Effective) IsEmpty() bool {
	return equalFloat(e.Temperature, e.defaults.Temperature) &&
		equalFloat(e.TopP, e.defaults.TopP) &&
		equalInt(e.MaxTokens, e.defaults.MaxTokens)
}

func (e Effective) ToMap() map[string]any {
	out := make(map[string]any)
	if e.Temperature != nil {
		out["temperature"] = *e.Temperature
	}
	if e.TopP != nil {
		out["topP"] = *e.TopP
	}
	if e.MaxTokens != nil {
		out["maxTokens"] = *e.MaxTokens
	}
	return out
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
