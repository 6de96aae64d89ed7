package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aescanero/dago-chat-router/internal/event"
	"github.com/aescanero/dago-chat-router/internal/rules"
)

// ruleFile is either a bare list of rule documents or {rules: [...]}
type ruleFile struct {
	Rules []map[string]any `yaml:"rules"`
}

// LoadRuleDocuments reads a YAML or JSON rule file. Every document must
// carry a string "id".
func LoadRuleDocuments(path string) ([]rules.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var list []map[string]any
	if err := yaml.Unmarshal(raw, &list); err != nil {
		var wrapped ruleFile
		if werr := yaml.Unmarshal(raw, &wrapped); werr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		list = wrapped.Rules
	}

	docs := make([]rules.Document, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, entry := range list {
		data, err := jsonCompatible(entry)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		id, _ := data["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("rule %d: missing string id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, id)
		}
		seen[id] = true
		delete(data, "id")
		docs = append(docs, rules.Document{ID: id, Data: data})
	}
	return docs, nil
}

// LoadEnvelope reads a YAML or JSON event file
func LoadEnvelope(path string) (*event.Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	b, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	var evt event.Envelope
	if err := json.Unmarshal(b, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", path, err)
	}
	return &evt, nil
}

// jsonCompatible converts YAML-decoded values to the JSON value model
// (float64 numbers, map[string]any objects)
func jsonCompatible(v map[string]any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
