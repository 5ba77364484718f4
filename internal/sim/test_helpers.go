package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quangdng/agentarium/internal/agents"
	"github.com/quangdng/agentarium/internal/experiment"
)

// memStore is an in-memory Store for unit tests
type memStore struct {
	mu sync.Mutex

	templates     map[string]experiment.Template
	statuses      map[string][]string
	counts        map[string][]experiment.AgentCount
	conversations []experiment.Conversation
	results       map[string]string

	failConversations    bool
	failInsertExperiment bool
	nextExperiment       int
}

func newMemStore() *memStore {
	return &memStore{
		templates: make(map[string]experiment.Template),
		statuses:  make(map[string][]string),
		counts:    make(map[string][]experiment.AgentCount),
		results:   make(map[string]string),
	}
}

func (m *memStore) addTemplate(id, data string) {
	m.templates[id] = experiment.Template{ID: id, Description: "test template", Data: data}
}

func (m *memStore) TemplateByID(id string) (*experiment.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) InsertExperiment(templateID string, numAgents int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsertExperiment {
		return "", fmt.Errorf("insert failure")
	}
	m.nextExperiment++
	id := fmt.Sprintf("exp-%d", m.nextExperiment)
	m.statuses[id] = []string{experiment.StatusPending}
	return id, nil
}

func (m *memStore) UpdateExperimentStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memStore) InsertAgentCounts(experimentID string, counts []experiment.AgentCount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[experimentID] = counts
	return nil
}

func (m *memStore) InsertConversation(c experiment.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failConversations {
		return fmt.Errorf("insert failure")
	}
	m.conversations = append(m.conversations, c)
	return nil
}

func (m *memStore) Conversations(experimentID string) ([]experiment.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []experiment.Conversation
	for _, c := range m.conversations {
		if c.ExperimentID == experimentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (m *memStore) InsertResult(r experiment.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results[r.ExperimentID] = r.RawReport
	return nil
}

func (m *memStore) currentStatus(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.statuses[id]
	if len(history) == 0 {
		return experiment.StatusUnknown
	}
	return history[len(history)-1]
}

// scriptedFactory builds scripted agents for tests
func scriptedFactory(persona agents.Persona) agents.Agent {
	return agents.NewScriptedAgent(persona)
}
