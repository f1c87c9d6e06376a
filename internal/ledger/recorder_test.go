package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldLabelAndUpdateType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path       string
		label      string
		updateType string
	}{
		{path: "status", label: "Status", updateType: "status"},
		{path: "assignee_id", label: "Assignee", updateType: "assignee"},
		{path: "due_date", label: "Due date", updateType: "due_date"},
		{path: "custom_fields.progress", label: "Progress", updateType: "progress"},
		{path: "custom_fields.priority", label: "Priority", updateType: "custom_field"},
		{path: "custom_fields.extra.sla", label: "custom_fields.extra.sla", updateType: "custom_field"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.label, FieldLabel(tt.path), tt.path)
		assert.Equal(t, tt.updateType, UpdateType(tt.path), tt.path)
	}
}

func TestFormatValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(none)", FormatValue(nil))
	assert.Equal(t, `""`, FormatValue(""))
	assert.Equal(t, "todo", FormatValue("todo"))
	assert.Equal(t, "2.5", FormatValue(2.5))
	assert.Equal(t, "40", FormatValue(float64(40)))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "[a, b]", FormatValue([]any{"a", "b"}))
	assert.Equal(t, `{"k":1}`, FormatValue(map[string]any{"k": 1}))
}
