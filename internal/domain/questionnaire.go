package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// NormalizeQuestionnaire decodes a questionnaire from any of the shapes
// the remote service and older local caches have produced:
//
//	{"fields": [...]}
//	{"questions": [...]}
//	{"form": {"fields"|"questions": [...]}}
//	{"data": {"fields"|"questions": [...]}}
//
// Every resulting field has an id, label, type, and required flag.
// A questionnaire with zero fields is rejected with ErrEmptyQuestionnaire.
func NormalizeQuestionnaire(raw []byte) (QuestionnaireDefinition, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return QuestionnaireDefinition{}, fmt.Errorf("%w: %v", ErrMalformedQuestionnaire, err)
	}
	return NormalizeQuestionnaireMap(doc)
}

// NormalizeQuestionnaireMap is NormalizeQuestionnaire over a decoded
// document.
func NormalizeQuestionnaireMap(doc map[string]any) (QuestionnaireDefinition, error) {
	containers := []map[string]any{doc, asMap(doc["form"]), asMap(doc["data"])}

	def := QuestionnaireDefinition{
		ID:          firstString(containers, "id"),
		LegacyID:    firstString(containers, "_id"),
		OriginalID:  firstString(containers, "originalId"),
		Title:       firstString(containers, "title", "name"),
		Category:    firstString(containers, "category"),
		Description: firstString(containers, "description"),
	}
	if def.ID == "" {
		def.ID = def.LegacyID
	}

	items := locateFields(containers)
	seen := make(map[string]int, len(items))
	for i, item := range items {
		f := normalizeField(item, i)
		if n, dup := seen[f.ID]; dup {
			seen[f.ID] = n + 1
			f.ID = fmt.Sprintf("%s_%d", f.ID, n+1)
		} else {
			seen[f.ID] = 1
		}
		def.Fields = append(def.Fields, f)
	}
	if len(def.Fields) == 0 {
		return def, ErrEmptyQuestionnaire
	}
	return def, nil
}

func locateFields(containers []map[string]any) []any {
	for _, c := range containers {
		if c == nil {
			continue
		}
		for _, key := range []string{"fields", "questions"} {
			if list, ok := c[key].([]any); ok && len(list) > 0 {
				return list
			}
		}
	}
	return nil
}

func normalizeField(item any, index int) Field {
	fallbackID := fmt.Sprintf("field_%d", index+1)

	if s, ok := item.(string); ok {
		label := strings.TrimSpace(s)
		if label == "" {
			label = fallbackID
		}
		return Field{ID: fallbackID, Label: label, Type: "text"}
	}

	m := asMap(item)
	if m == nil {
		return Field{ID: fallbackID, Label: fallbackID, Type: "text"}
	}
	one := []map[string]any{m}

	f := Field{
		ID:       firstString(one, "id", "_id", "name", "key"),
		Label:    firstString(one, "label", "question", "text", "title", "name"),
		Type:     strings.ToLower(firstString(one, "type", "fieldType", "inputType")),
		Required: asBool(m["required"]) || asBool(m["isRequired"]),
		Options:  normalizeOptions(m["options"], m["choices"]),
	}
	if f.ID == "" {
		f.ID = fallbackID
	}
	if f.Label == "" {
		f.Label = f.ID
	}
	if f.Type == "" {
		f.Type = "text"
	}
	return f
}

func normalizeOptions(candidates ...any) []string {
	for _, c := range candidates {
		list, ok := c.([]any)
		if !ok || len(list) == 0 {
			continue
		}
		var out []string
		for _, o := range list {
			switch v := o.(type) {
			case string:
				if v = strings.TrimSpace(v); v != "" {
					out = append(out, v)
				}
			case map[string]any:
				if s := firstString([]map[string]any{v}, "label", "value", "title"); s != "" {
					out = append(out, s)
				}
			case float64, bool:
				out = append(out, fmt.Sprint(v))
			}
		}
		return out
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	case float64:
		return b != 0
	}
	return false
}

// firstString returns the first non-empty string value found for any of
// keys, searching containers in order.
func firstString(containers []map[string]any, keys ...string) string {
	for _, c := range containers {
		if c == nil {
			continue
		}
		for _, k := range keys {
			switch v := c[k].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case float64:
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}
