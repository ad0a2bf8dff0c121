// internal/agent/locator.go
package agent

import (
	"strings"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
)

// findElement returns the first captured element satisfying the matcher, in
// tree order, or nil when nothing matches.
func findElement(state *schemas.ScreenState, m knowledge.Matcher) *schemas.UIElement {
	if state == nil {
		return nil
	}
	for i := range state.Elements {
		if matchesElement(&state.Elements[i], m) {
			return &state.Elements[i]
		}
	}
	return nil
}

func matchesElement(el *schemas.UIElement, m knowledge.Matcher) bool {
	var field string
	switch m.Field {
	case knowledge.FieldText:
		field = el.Text
	case knowledge.FieldLabel:
		field = el.Label
	case knowledge.FieldResourceID:
		field = el.ResourceID
	default:
		return false
	}

	switch m.Op {
	case knowledge.OpEquals:
		return strings.EqualFold(field, m.Value)
	case knowledge.OpContains:
		return strings.Contains(strings.ToLower(field), strings.ToLower(m.Value))
	default:
		return false
	}
}

// hintMatcher lifts a hint's target triple into a Matcher. Hints without a
// matcher yield a zero Matcher, which never matches.
func hintMatcher(h knowledge.LocatorHint) knowledge.Matcher {
	return knowledge.Matcher{Field: h.Field, Op: h.Op, Value: h.Value}
}
