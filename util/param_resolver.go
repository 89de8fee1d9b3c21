package util

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveTemplate replaces every {$.path} token in tmpl with the value found
// at that jsonpath in data. Tokens that do not resolve are left in place.
func ResolveTemplate(tmpl string, data map[string]any) string {
	tokens := tokenPattern.FindAllString(tmpl, -1)
	if len(tokens) == 0 {
		return tmpl
	}
	tokenMap := make(map[string]string)
	for _, token := range tokens {
		tmatch := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(tmatch, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, tmatch)
		if err != nil || value == nil {
			continue
		}
		tokenMap[token] = stringify(value)
	}
	out := tmpl
	for t, tv := range tokenMap {
		out = strings.ReplaceAll(out, t, tv)
	}
	return out
}

// ResolveParams resolves templates in every string value of params, walking
// nested maps and lists.
func ResolveParams(params map[string]any, data map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	output := make(map[string]any, len(params))
	for k, v := range params {
		output[k] = resolveValue(v, data)
	}
	return output
}

func resolveValue(v any, data map[string]any) any {
	switch t := v.(type) {
	case map[string]any:
		return ResolveParams(t, data)
	case string:
		return ResolveTemplate(t, data)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, resolveValue(item, data))
		}
		return out
	default:
		return v
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}
