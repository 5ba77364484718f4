package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/quangdng/agentarium/internal/agents"
	"github.com/quangdng/agentarium/internal/experiment"
)

const trialTemplate = `{
	"template_name": "Trial",
	"rounds": 1,
	"conversations_per_round": 1,
	"factions": {
		"A": {
			"faction_prompt": "You speak plainly",
			"person_prompt": ["p1 {name}"],
			"agent_count": 2
		},
		"B": {
			"faction_prompt": "You listen carefully",
			"agent_count": 1
		}
	}
}`

// TestRunEndToEnd drives a one-day run and checks every persisted artifact
func TestRunEndToEnd(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", trialTemplate)

	s, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{
		MaxConversationsPerAgent: 3,
	})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}

	if s.NumAgents() != 3 {
		t.Fatalf("Expected 3 agents, got %d", s.NumAgents())
	}

	if s.ExperimentID() == "" {
		t.Fatal("Expected experiment id before run")
	}
	if store.currentStatus(s.ExperimentID()) != experiment.StatusPending {
		t.Errorf("Expected pending status before run, got %s", store.currentStatus(s.ExperimentID()))
	}

	// Population from the template: two role-A agents with substituted
	// prompts, one role-B agent with none
	a1 := s.AgentByName("Agent_1").(*agents.ScriptedAgent)
	if a1.Role() != "A" || a1.PersonalPrompt != "p1 Agent_1" {
		t.Errorf("Agent_1: role %s, prompt %q", a1.Role(), a1.PersonalPrompt)
	}
	a2 := s.AgentByName("Agent_2").(*agents.ScriptedAgent)
	if a2.Role() != "A" || a2.PersonalPrompt != "p1 Agent_2" {
		t.Errorf("Agent_2: role %s, prompt %q", a2.Role(), a2.PersonalPrompt)
	}
	a3 := s.AgentByName("Agent_3").(*agents.ScriptedAgent)
	if a3.Role() != "B" || a3.PersonalPrompt != "" {
		t.Errorf("Agent_3: role %s, prompt %q", a3.Role(), a3.PersonalPrompt)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	conversations, _ := store.Conversations(s.ExperimentID())
	if len(conversations) != 2 {
		t.Fatalf("Expected 2 conversation rows, got %d", len(conversations))
	}
	for i, c := range conversations {
		if c.Day != 1 {
			t.Errorf("Row %d: expected day 1, got %d", i, c.Day)
		}
		if c.Sequence != i {
			t.Errorf("Row %d: expected sequence %d, got %d", i, i, c.Sequence)
		}
	}

	// The two rows form one A->B then B->A exchange
	if conversations[0].Sender != conversations[1].Recipient || conversations[0].Recipient != conversations[1].Sender {
		t.Errorf("Rows do not form a round trip: %+v", conversations)
	}

	if store.currentStatus(s.ExperimentID()) != experiment.StatusCompleted {
		t.Errorf("Expected completed status, got %s", store.currentStatus(s.ExperimentID()))
	}

	report, ok := store.results[s.ExperimentID()]
	if !ok {
		t.Fatal("Expected exactly one experiment result")
	}
	if report == "" {
		t.Error("Expected non-empty report")
	}
}

// TestRunSequenceNumbering tests the gap-free run-scoped sequence
func TestRunSequenceNumbering(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", `{
		"template_name": "Seq",
		"rounds": 3,
		"conversations_per_round": 2,
		"factions": {"crowd": {"faction_prompt": "p", "agent_count": 4}}
	}`)

	s, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	conversations, _ := store.Conversations(s.ExperimentID())
	if len(conversations)%2 != 0 {
		t.Fatalf("Expected an even number of rows, got %d", len(conversations))
	}
	for i, c := range conversations {
		if c.Sequence != i {
			t.Fatalf("Row %d: expected sequence %d, got %d", i, i, c.Sequence)
		}
	}
}

// TestRunTruncation tests that oversized messages are cut to the limit
func TestRunTruncation(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", `{
		"template_name": "Trunc",
		"rounds": 1,
		"conversations_per_round": 2,
		"factions": {"crowd": {"faction_prompt": "p", "agent_count": 4}}
	}`)

	s, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{
		MaxMessageLength: 10,
	})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	conversations, _ := store.Conversations(s.ExperimentID())
	if len(conversations) == 0 {
		t.Fatal("Expected conversation rows")
	}
	for i, c := range conversations {
		if n := len([]rune(c.Text)); n > 10 {
			t.Errorf("Row %d: expected at most 10 characters, got %d", i, n)
		}
	}
}

// TestRunPersistFailure tests that a write failure aborts the run with no
// result written
func TestRunPersistFailure(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", trialTemplate)
	store.failConversations = true

	s, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Expected error from failing store")
	}

	if status := store.currentStatus(s.ExperimentID()); status == experiment.StatusCompleted {
		t.Error("Run must not complete after a persistence failure")
	}
	if _, ok := store.results[s.ExperimentID()]; ok {
		t.Error("No result must be written for a failed run")
	}
}

// TestAgentCountsSnapshot tests the per-faction counts taken at creation
func TestAgentCountsSnapshot(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", trialTemplate)

	s, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}

	counts := store.counts[s.ExperimentID()]
	if len(counts) != 2 {
		t.Fatalf("Expected 2 agent count rows, got %d", len(counts))
	}
	if counts[0].Role != "A" || counts[0].Count != 2 {
		t.Errorf("Expected A:2 first, got %s:%d", counts[0].Role, counts[0].Count)
	}
	if counts[1].Role != "B" || counts[1].Count != 1 {
		t.Errorf("Expected B:1 second, got %s:%d", counts[1].Role, counts[1].Count)
	}
}

// TestNewSimulationUnknownTemplate tests rejection before any record exists
func TestNewSimulationUnknownTemplate(t *testing.T) {
	store := newMemStore()

	_, err := NewSimulation(store, "missing", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
	if err == nil {
		t.Fatal("Expected error for unknown template")
	}
	if len(store.statuses) != 0 {
		t.Error("No experiment record may be created for an unknown template")
	}
}

// TestNewSimulationMalformedTemplate tests rejection of invalid documents
func TestNewSimulationMalformedTemplate(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"template_name": `,
		"zero rounds":      `{"template_name": "x", "rounds": 0, "conversations_per_round": 1, "factions": {"f": {"agent_count": 1}}}`,
		"no factions":      `{"template_name": "x", "rounds": 1, "conversations_per_round": 1, "factions": {}}`,
		"zero agent count": `{"template_name": "x", "rounds": 1, "conversations_per_round": 1, "factions": {"f": {"agent_count": 0}}}`,
		"missing name":     `{"rounds": 1, "conversations_per_round": 1, "factions": {"f": {"agent_count": 1}}}`,
	}

	for name, data := range cases {
		store := newMemStore()
		store.addTemplate("tmpl", data)

		_, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
		if err == nil {
			t.Errorf("%s: expected construction error", name)
		}
	}
}

// TestNewSimulationStoreFailure tests that persistence failures during
// construction are distinguishable from configuration errors
func TestNewSimulationStoreFailure(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", trialTemplate)
	store.failInsertExperiment = true

	_, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
	if err == nil {
		t.Fatal("Expected error from failing store")
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Errorf("Expected a store error, got %T: %v", err, err)
	}

	// A malformed template is the caller's error, not a store error
	bad := newMemStore()
	bad.addTemplate("tmpl", `{"template_name": "x"}`)
	_, err = NewSimulation(bad, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{})
	if err == nil {
		t.Fatal("Expected error for malformed template")
	}
	if errors.As(err, &storeErr) {
		t.Errorf("Configuration error must not be a store error: %v", err)
	}
}

// TestOptionOverrides tests request overrides taking precedence over the
// template values
func TestOptionOverrides(t *testing.T) {
	store := newMemStore()
	store.addTemplate("tmpl", `{
		"template_name": "Overrides",
		"rounds": 5,
		"conversations_per_round": 6,
		"factions": {"crowd": {"faction_prompt": "p", "agent_count": 4}}
	}`)

	s, err := NewSimulation(store, "tmpl", agents.NewScriptedModerator("mod-test"), scriptedFactory, Options{
		Rounds:                2,
		ConversationsPerRound: 1,
	})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}

	if s.rounds != 2 {
		t.Errorf("Expected 2 rounds, got %d", s.rounds)
	}
	if s.conversationsPerRound != 1 {
		t.Errorf("Expected 1 conversation per round, got %d", s.conversationsPerRound)
	}
	if s.maxConversationsPerAgent != DefaultMaxConversationsPerAgent {
		t.Errorf("Expected default agent cap, got %d", s.maxConversationsPerAgent)
	}
	if s.maxMessageLength != DefaultMaxMessageLength {
		t.Errorf("Expected default message length, got %d", s.maxMessageLength)
	}
}
