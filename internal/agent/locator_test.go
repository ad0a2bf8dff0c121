package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
)

func TestFindElement(t *testing.T) {
	state := screenWith("com.android.settings", "Airplane mode", "Battery")
	state.Elements[1].ResourceID = "com.android.settings:id/battery"
	state.Elements[1].Label = "Battery status"

	el := findElement(state, knowledge.Matcher{Field: knowledge.FieldText, Op: knowledge.OpContains, Value: "airplane"})
	require.NotNil(t, el)
	assert.Equal(t, "Airplane mode", el.Text)

	el = findElement(state, knowledge.Matcher{Field: knowledge.FieldResourceID, Op: knowledge.OpEquals, Value: "com.android.settings:id/battery"})
	require.NotNil(t, el)
	assert.Equal(t, "Battery", el.Text)

	el = findElement(state, knowledge.Matcher{Field: knowledge.FieldLabel, Op: knowledge.OpContains, Value: "status"})
	require.NotNil(t, el)

	assert.Nil(t, findElement(state, knowledge.Matcher{Field: knowledge.FieldText, Op: knowledge.OpEquals, Value: "Airplane"}))
	assert.Nil(t, findElement(state, knowledge.Matcher{Field: "bogus", Op: knowledge.OpEquals, Value: "x"}))
	assert.Nil(t, findElement(nil, knowledge.Matcher{Field: knowledge.FieldText, Op: knowledge.OpEquals, Value: "x"}))
}
