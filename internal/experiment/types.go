package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Experiment lifecycle statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown"
)

// Template is a stored experiment template. Data holds the raw JSON
// template document.
type Template struct {
	ID          string `json:"template_id"`
	Description string `json:"description"`
	Data        string `json:"template_data"`
}

// Faction describes one named group of agents sharing a background prompt
type Faction struct {
	FactionPrompt string   `json:"faction_prompt"`
	PersonPrompts []string `json:"person_prompt"`
	AgentCount    int      `json:"agent_count"`
	Powers        []string `json:"powers"`
}

// TemplateData is the parsed template document. FactionOrder preserves the
// key order of the factions object in the source JSON, which drives agent
// naming and role assignment.
type TemplateData struct {
	TemplateName          string             `json:"template_name"`
	Rounds                int                `json:"rounds"`
	ConversationsPerRound int                `json:"conversations_per_round"`
	ContentPrompt         string             `json:"content_prompt,omitempty"`
	PairingRule           string             `json:"pairing_rule,omitempty"`
	Factions              map[string]Faction `json:"factions"`

	FactionOrder []string `json:"-"`
}

// ParseTemplateData parses and validates a raw template document
func ParseTemplateData(raw string) (*TemplateData, error) {
	var data TemplateData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("malformed template data: %w", err)
	}

	order, err := factionKeys([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("malformed template data: %w", err)
	}
	data.FactionOrder = order

	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &data, nil
}

// Validate checks the template document invariants
func (d *TemplateData) Validate() error {
	if d.TemplateName == "" {
		return fmt.Errorf("template_name is required")
	}
	if d.Rounds <= 0 {
		return fmt.Errorf("rounds must be a positive integer")
	}
	if d.ConversationsPerRound <= 0 {
		return fmt.Errorf("conversations_per_round must be a positive integer")
	}
	if len(d.Factions) == 0 {
		return fmt.Errorf("factions must be a non-empty object")
	}
	for name, faction := range d.Factions {
		if faction.AgentCount <= 0 {
			return fmt.Errorf("faction %q: agent_count must be a positive integer", name)
		}
	}
	return nil
}

// factionKeys extracts the faction names in document order from the raw
// template JSON. encoding/json maps do not preserve key order, so the
// order is recovered with a token scan.
func factionKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("template data must be a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token in template data")
		}

		if key != "factions" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("factions must be a JSON object")
		}

		var keys []string
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, ok := nameTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected token in factions object")
			}
			keys = append(keys, name)

			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
		return keys, nil
	}

	return nil, nil
}

// Experiment is one simulation run record
type Experiment struct {
	ID         string    `json:"experiment_id"`
	TemplateID string    `json:"template_id"`
	NumAgents  int       `json:"num_agents"`
	Status     string    `json:"status"`
	Rounds     int       `json:"rounds,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conversation is a single persisted message. Sequence is strictly
// increasing within an experiment, starting at 0.
type Conversation struct {
	ExperimentID string `json:"experiment_id"`
	Day          int    `json:"day_no"`
	Sequence     int    `json:"sequence_no"`
	Sender       string `json:"agent_1"`
	Recipient    string `json:"agent_2"`
	Text         string `json:"text"`
}

// Involves reports whether the named agent sent or received this message
func (c Conversation) Involves(name string) bool {
	return c.Sender == name || c.Recipient == name
}

// AgentCount is a per-faction population snapshot taken at experiment creation
type AgentCount struct {
	ExperimentID string `json:"experiment_id"`
	Role         string `json:"role"`
	Count        int    `json:"count"`
}

// Result is the final moderator report for an experiment
type Result struct {
	ExperimentID string `json:"experiment_id"`
	RawReport    string `json:"raw_report"`
}
