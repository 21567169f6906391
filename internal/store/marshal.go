package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalSkills converts a skill list to JSON TEXT for storage.
func marshalSkills(skills []string) (string, error) {
	if skills == nil {
		skills = []string{}
	}
	return encodeJSON(skills)
}

// marshalExperience converts an experience record to JSON TEXT for storage.
func marshalExperience(exp map[string]any) (string, error) {
	if exp == nil {
		exp = map[string]any{}
	}
	return encodeJSON(exp)
}

// encodeJSON uses json.Encoder with HTML escaping disabled so stored text
// matches what callers submitted. Map keys are sorted by encoding/json.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalSkills(data string) ([]string, error) {
	skills := []string{}
	if data == "" {
		return skills, nil
	}
	if err := json.Unmarshal([]byte(data), &skills); err != nil {
		return nil, fmt.Errorf("unmarshal skills: %w", err)
	}
	return skills, nil
}

// unmarshalExperience uses json.Number so large integers survive.
func unmarshalExperience(data string) (map[string]any, error) {
	exp := map[string]any{}
	if data == "" {
		return exp, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&exp); err != nil {
		return nil, fmt.Errorf("unmarshal experience: %w", err)
	}
	return exp, nil
}

// joinRoles stores roles as a comma-separated list.
func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
