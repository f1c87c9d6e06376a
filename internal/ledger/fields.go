package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/metalagman/taskledger/internal/model"
)

// Updatable fields are a closed set addressed by dotted paths, plus the open
// custom_fields.extra subtree. Values travel through three shapes: the raw
// caller value, the canonical value returned by parse/get (compared to detect
// changes), and the JSON-compatible audit value stored in update records.

const extraPath = "custom_fields.extra"

type fieldDef struct {
	path  string
	parse func(raw any) (any, error)
	get   func(t *model.Task) any
	set   func(t *model.Task, v any)
}

var fieldDefs = []fieldDef{
	{
		path:  "title",
		parse: func(raw any) (any, error) { return parseTitle("title", raw) },
		get:   func(t *model.Task) any { return t.Title },
		set:   func(t *model.Task, v any) { t.Title = v.(string) },
	},
	{
		path:  "description",
		parse: func(raw any) (any, error) { return parseString("description", raw) },
		get:   func(t *model.Task) any { return t.Description },
		set:   func(t *model.Task, v any) { t.Description = v.(string) },
	},
	{
		path:  "status",
		parse: func(raw any) (any, error) { return parseStatus("status", raw) },
		get:   func(t *model.Task) any { return t.Status },
		set:   func(t *model.Task, v any) { t.Status = v.(model.Status) },
	},
	{
		path:  "assignee_id",
		parse: func(raw any) (any, error) { return parseOptionalString("assignee_id", raw) },
		get: func(t *model.Task) any {
			if t.AssigneeID == nil {
				return nil
			}
			return *t.AssigneeID
		},
		set: func(t *model.Task, v any) {
			if v == nil {
				t.AssigneeID = nil
				return
			}
			s := v.(string)
			t.AssigneeID = &s
		},
	},
	{
		path:  "due_date",
		parse: func(raw any) (any, error) { return parseOptionalTime("due_date", raw) },
		get:   func(t *model.Task) any { return timeValue(t.DueDate) },
		set:   func(t *model.Task, v any) { t.DueDate = timePtr(v) },
	},
	{
		path:  "start_date",
		parse: func(raw any) (any, error) { return parseOptionalTime("start_date", raw) },
		get:   func(t *model.Task) any { return timeValue(t.StartDate) },
		set:   func(t *model.Task, v any) { t.StartDate = timePtr(v) },
	},
	{
		path:  "custom_fields.priority",
		parse: func(raw any) (any, error) { return parsePriority("custom_fields.priority", raw) },
		get:   func(t *model.Task) any { return t.CustomFields.Priority },
		set:   func(t *model.Task, v any) { t.CustomFields.Priority = v.(model.Priority) },
	},
	{
		path:  "custom_fields.estimated_hours",
		parse: func(raw any) (any, error) { return parseHours("custom_fields.estimated_hours", raw) },
		get:   func(t *model.Task) any { return t.CustomFields.EstimatedHours },
		set:   func(t *model.Task, v any) { t.CustomFields.EstimatedHours = v.(float64) },
	},
	{
		path:  "custom_fields.actual_hours",
		parse: func(raw any) (any, error) { return parseHours("custom_fields.actual_hours", raw) },
		get:   func(t *model.Task) any { return t.CustomFields.ActualHours },
		set:   func(t *model.Task, v any) { t.CustomFields.ActualHours = v.(float64) },
	},
	{
		path:  "custom_fields.progress",
		parse: func(raw any) (any, error) { return parseBoundedInt("custom_fields.progress", raw, 0, 100) },
		get:   func(t *model.Task) any { return t.CustomFields.Progress },
		set:   func(t *model.Task, v any) { t.CustomFields.Progress = v.(int) },
	},
	{
		path:  "custom_fields.tags",
		parse: func(raw any) (any, error) { return parseTags("custom_fields.tags", raw) },
		get: func(t *model.Task) any {
			if t.CustomFields.Tags == nil {
				return []string{}
			}
			return slices.Clone(t.CustomFields.Tags)
		},
		set: func(t *model.Task, v any) { t.CustomFields.Tags = v.([]string) },
	},
	{
		path:  "custom_fields.category",
		parse: func(raw any) (any, error) { return parseString("custom_fields.category", raw) },
		get:   func(t *model.Task) any { return t.CustomFields.Category },
		set:   func(t *model.Task, v any) { t.CustomFields.Category = v.(string) },
	},
	{
		path:  "custom_fields.difficulty",
		parse: func(raw any) (any, error) { return parseBoundedInt("custom_fields.difficulty", raw, 1, 10) },
		get:   func(t *model.Task) any { return t.CustomFields.Difficulty },
		set:   func(t *model.Task, v any) { t.CustomFields.Difficulty = v.(int) },
	},
}

var readOnlyFields = map[string]bool{
	"id":           true,
	"created_at":   true,
	"updated_at":   true,
	"completed_at": true,
	"parent_id":    true,
	"level":        true,
	"children":     true,
}

// resolvedField is a validated field path with its canonical new value.
type resolvedField struct {
	path  string
	order int
	value any
	def   fieldDef
}

// resolveFields validates every path and value before anything is written.
// The result is ordered by declaration, extra paths last in path order.
func resolveFields(fields map[string]any) ([]resolvedField, error) {
	out := make([]resolvedField, 0, len(fields))
	for path, raw := range fields {
		def, order, err := lookupField(path)
		if err != nil {
			return nil, err
		}
		value, err := def.parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, resolvedField{path: path, order: order, value: value, def: def})
	}
	slices.SortFunc(out, func(a, b resolvedField) int {
		if a.order != b.order {
			return a.order - b.order
		}
		return strings.Compare(a.path, b.path)
	})
	return out, nil
}

func lookupField(path string) (fieldDef, int, error) {
	if readOnlyFields[path] {
		return fieldDef{}, 0, fieldErr(path, "field is read-only")
	}
	for i, def := range fieldDefs {
		if def.path == path {
			return def, i, nil
		}
	}
	if path == extraPath || strings.HasPrefix(path, extraPath+".") {
		segs, err := extraSegments(path)
		if err != nil {
			return fieldDef{}, 0, err
		}
		return extraField(path, segs), len(fieldDefs), nil
	}
	return fieldDef{}, 0, fieldErr(path, "unknown field")
}

func extraSegments(path string) ([]string, error) {
	rest := strings.TrimPrefix(strings.TrimPrefix(path, extraPath), ".")
	if rest == "" {
		return nil, nil
	}
	segs := strings.Split(rest, ".")
	for _, seg := range segs {
		if seg == "" {
			return nil, fieldErr(path, "empty path segment")
		}
	}
	return segs, nil
}

func extraField(path string, segs []string) fieldDef {
	if len(segs) == 0 {
		return fieldDef{
			path: path,
			parse: func(raw any) (any, error) {
				v, err := normalizeJSON(raw)
				if err != nil {
					return nil, fieldErr(path, "value is not JSON-encodable: %v", err)
				}
				if v == nil {
					return map[string]any{}, nil
				}
				m, ok := v.(map[string]any)
				if !ok {
					return nil, fieldErr(path, "expected an object, got %T", raw)
				}
				return m, nil
			},
			get: func(t *model.Task) any {
				if t.CustomFields.Extra == nil {
					return map[string]any{}
				}
				return t.CustomFields.Extra
			},
			set: func(t *model.Task, v any) { t.CustomFields.Extra = v.(map[string]any) },
		}
	}
	return fieldDef{
		path: path,
		parse: func(raw any) (any, error) {
			v, err := normalizeJSON(raw)
			if err != nil {
				return nil, fieldErr(path, "value is not JSON-encodable: %v", err)
			}
			return v, nil
		},
		get: func(t *model.Task) any { return lookupPath(t.CustomFields.Extra, segs) },
		set: func(t *model.Task, v any) {
			t.CustomFields.Extra = assignPath(t.CustomFields.Extra, segs, v)
		},
	}
}

// lookupPath walks nested maps. A missing or non-object segment yields nil.
func lookupPath(m map[string]any, segs []string) any {
	var cur any = m
	for _, seg := range segs {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[seg]
	}
	return cur
}

// assignPath sets value at segs, creating missing intermediate objects and
// replacing non-object intermediates with empty ones. It returns the
// (possibly newly allocated) root map.
func assignPath(m map[string]any, segs []string, value any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	cur := m
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
	return m
}

func sameValue(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA && okB {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// auditValue converts a canonical value to its JSON-compatible form.
func auditValue(v any) any {
	out, err := normalizeJSON(v)
	if err != nil {
		return nil
	}
	return out
}

func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseString(path string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	}
	return "", fieldErr(path, "expected a string, got %T", raw)
}

func parseTitle(path string, raw any) (string, error) {
	s, err := parseString(path, raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fieldErr(path, "must not be empty")
	}
	if utf8.RuneCountInString(s) > maxTitleLen {
		return "", fieldErr(path, "must be at most %d characters", maxTitleLen)
	}
	return s, nil
}

func parseOptionalString(path string, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return v, nil
	case *string:
		if v == nil || *v == "" {
			return nil, nil
		}
		return *v, nil
	}
	return nil, fieldErr(path, "expected a string or null, got %T", raw)
}

func parseStatus(path string, raw any) (model.Status, error) {
	var status model.Status
	switch v := raw.(type) {
	case string:
		status = model.Status(v)
	case model.Status:
		status = v
	default:
		return "", fieldErr(path, "expected a status string, got %T", raw)
	}
	if !status.Valid() {
		return "", fieldErr(path, "unknown status %q", status)
	}
	return status, nil
}

func parsePriority(path string, raw any) (model.Priority, error) {
	var priority model.Priority
	switch v := raw.(type) {
	case string:
		priority = model.Priority(v)
	case model.Priority:
		priority = v
	default:
		return "", fieldErr(path, "expected a priority string, got %T", raw)
	}
	if !priority.Valid() {
		return "", fieldErr(path, "unknown priority %q", priority)
	}
	return priority, nil
}

func parseNumber(path string, raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fieldErr(path, "malformed number %q", v.String())
		}
		f = parsed
	default:
		return 0, fieldErr(path, "expected a number, got %T", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fieldErr(path, "expected a finite number")
	}
	return f, nil
}

func parseHours(path string, raw any) (float64, error) {
	f, err := parseNumber(path, raw)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fieldErr(path, "must be >= 0")
	}
	return f, nil
}

func parseBoundedInt(path string, raw any, lo, hi int) (int, error) {
	f, err := parseNumber(path, raw)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fieldErr(path, "expected an integer")
	}
	n := int(f)
	if n < lo || n > hi {
		return 0, fieldErr(path, "must be between %d and %d", lo, hi)
	}
	return n, nil
}

func parseTags(path string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fieldErr(path, "expected string tags, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fieldErr(path, "expected a list of strings, got %T", raw)
}

// Accepted date inputs, tried in order.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", time.DateOnly}

func parseOptionalTime(path string, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return v.UTC(), nil
	case string:
		if v == "" {
			return nil, nil
		}
		t, err := ParseTime(v)
		if err != nil {
			return nil, fieldErr(path, "malformed time %q", v)
		}
		return t, nil
	}
	return nil, fieldErr(path, "expected a time, got %T", raw)
}

// ParseTime parses a date in any accepted input layout and returns it in UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed time %q: want RFC 3339, 2006-01-02T15:04 or 2006-01-02", s)
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := v.(time.Time)
	return &t
}
