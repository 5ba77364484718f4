package sim

import (
	"fmt"
	"strings"

	"github.com/quangdng/agentarium/internal/agents"
	"github.com/quangdng/agentarium/internal/experiment"
)

// AgentFactory builds a concrete agent from its persona. It selects the
// provider (scripted or LLM-backed) without the scheduler knowing which.
type AgentFactory func(persona agents.Persona) agents.Agent

// buildAgents expands the template's factions into concrete agents, in
// faction document order. Agent names carry a globally incrementing suffix
// that is not reset per faction.
func buildAgents(data *experiment.TemplateData, maxPerDay int, factory AgentFactory) ([]agents.Agent, map[string]agents.Agent) {
	var population []agents.Agent
	lookup := make(map[string]agents.Agent)

	counter := 1
	for _, factionName := range data.FactionOrder {
		faction := data.Factions[factionName]
		prompts := distributePrompts(faction.PersonPrompts, faction.AgentCount)

		for i := 0; i < faction.AgentCount; i++ {
			name := fmt.Sprintf("Agent_%d", counter)
			id := fmt.Sprintf("agent_%d", counter)

			personal := prompts[i]
			if personal != "" {
				personal = strings.ReplaceAll(personal, "{name}", name)
			}

			agent := factory(agents.Persona{
				AgentID:                id,
				AgentName:              name,
				Faction:                factionName,
				FactionPrompt:          faction.FactionPrompt,
				PersonalPrompt:         personal,
				PowerSet:               faction.Powers,
				MaxConversationsPerDay: maxPerDay,
			})

			population = append(population, agent)
			lookup[name] = agent
			lookup[id] = agent

			counter++
		}
	}

	return population, lookup
}

// distributePrompts assigns personal prompts to count agents. With enough
// prompts the first count entries are taken positionally; with fewer, each
// prompt repeats count/len times and the first count%len prompts get one
// extra, preserving prompt order. No prompts means empty prompts for all.
func distributePrompts(prompts []string, count int) []string {
	if len(prompts) == 0 {
		return make([]string, count)
	}

	if len(prompts) >= count {
		return prompts[:count]
	}

	distributed := make([]string, 0, count)
	base := count / len(prompts)
	remainder := count % len(prompts)

	for i, prompt := range prompts {
		repeat := base
		if i < remainder {
			repeat++
		}
		for j := 0; j < repeat; j++ {
			distributed = append(distributed, prompt)
		}
	}

	return distributed
}
