package experiment

import "testing"

// TestParseTemplateData tests parsing a full template document
func TestParseTemplateData(t *testing.T) {
	raw := `{
		"template_name": "Council",
		"rounds": 4,
		"conversations_per_round": 3,
		"content_prompt": "A quiet debate",
		"factions": {
			"zeta": {
				"faction_prompt": "fp",
				"person_prompt": ["pp1", "pp2"],
				"agent_count": 2,
				"powers": ["vote"]
			},
			"alpha": {
				"faction_prompt": "fp2",
				"agent_count": 1
			}
		}
	}`

	data, err := ParseTemplateData(raw)
	if err != nil {
		t.Fatalf("ParseTemplateData failed: %v", err)
	}

	if data.TemplateName != "Council" {
		t.Errorf("Expected template name 'Council', got %q", data.TemplateName)
	}
	if data.Rounds != 4 {
		t.Errorf("Expected 4 rounds, got %d", data.Rounds)
	}
	if data.ConversationsPerRound != 3 {
		t.Errorf("Expected 3 conversations per round, got %d", data.ConversationsPerRound)
	}
	if len(data.Factions) != 2 {
		t.Fatalf("Expected 2 factions, got %d", len(data.Factions))
	}

	zeta := data.Factions["zeta"]
	if zeta.AgentCount != 2 || len(zeta.PersonPrompts) != 2 || len(zeta.Powers) != 1 {
		t.Errorf("Unexpected zeta faction: %+v", zeta)
	}
}

// TestParseTemplateDataFactionOrder tests that document order is preserved
// even when it disagrees with lexical order
func TestParseTemplateDataFactionOrder(t *testing.T) {
	raw := `{
		"template_name": "Order",
		"rounds": 1,
		"conversations_per_round": 1,
		"factions": {
			"zeta": {"agent_count": 1},
			"alpha": {"agent_count": 1},
			"mid": {"agent_count": 1}
		}
	}`

	data, err := ParseTemplateData(raw)
	if err != nil {
		t.Fatalf("ParseTemplateData failed: %v", err)
	}

	want := []string{"zeta", "alpha", "mid"}
	if len(data.FactionOrder) != len(want) {
		t.Fatalf("Expected %d factions in order, got %d", len(want), len(data.FactionOrder))
	}
	for i, name := range want {
		if data.FactionOrder[i] != name {
			t.Errorf("Position %d: expected %q, got %q", i, name, data.FactionOrder[i])
		}
	}
}

// TestParseTemplateDataInvalid tests validation failures
func TestParseTemplateDataInvalid(t *testing.T) {
	cases := map[string]string{
		"malformed json":     `{"template_name"`,
		"not an object":      `[1, 2, 3]`,
		"missing name":       `{"rounds": 1, "conversations_per_round": 1, "factions": {"f": {"agent_count": 1}}}`,
		"zero rounds":        `{"template_name": "x", "rounds": 0, "conversations_per_round": 1, "factions": {"f": {"agent_count": 1}}}`,
		"negative rounds":    `{"template_name": "x", "rounds": -2, "conversations_per_round": 1, "factions": {"f": {"agent_count": 1}}}`,
		"zero conversations": `{"template_name": "x", "rounds": 1, "conversations_per_round": 0, "factions": {"f": {"agent_count": 1}}}`,
		"no factions":        `{"template_name": "x", "rounds": 1, "conversations_per_round": 1, "factions": {}}`,
		"zero agent count":   `{"template_name": "x", "rounds": 1, "conversations_per_round": 1, "factions": {"f": {"agent_count": 0}}}`,
	}

	for name, raw := range cases {
		if _, err := ParseTemplateData(raw); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// TestConversationInvolves tests participant matching
func TestConversationInvolves(t *testing.T) {
	c := Conversation{Sender: "Agent_1", Recipient: "Agent_2"}

	if !c.Involves("Agent_1") {
		t.Error("Expected sender to be involved")
	}
	if !c.Involves("Agent_2") {
		t.Error("Expected recipient to be involved")
	}
	if c.Involves("Agent_3") {
		t.Error("Expected Agent_3 to not be involved")
	}
}
