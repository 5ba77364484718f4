package sim

import (
	"fmt"
	"math/rand"

	"github.com/expr-lang/expr/vm"
	"github.com/quangdng/agentarium/internal/agents"
)

// pair is one unordered conversation pairing for a day
type pair struct {
	a, b agents.Agent
}

// generatePairs picks up to min(conversationsPerRound, available/2) pairs
// by repeated random selection, bounded by maxPairs*10 attempts. A pending
// counter tracks picks made during this phase so an agent cannot be
// committed past its daily cap before any exchange has run.
func (s *Simulation) generatePairs(day int) ([]pair, error) {
	pending := make(map[string]int)
	available := s.availableAgents(pending)

	maxPairs := s.conversationsPerRound
	if half := len(available) / 2; half < maxPairs {
		maxPairs = half
	}

	var pairs []pair
	attempts := 0
	maxAttempts := maxPairs * 10

	for len(pairs) < maxPairs && len(available) >= 2 && attempts < maxAttempts {
		attempts++

		a := available[rand.Intn(len(available))]

		var partners []agents.Agent
		for _, candidate := range available {
			if candidate.ID() != a.ID() {
				partners = append(partners, candidate)
			}
		}
		if len(partners) == 0 {
			break
		}
		b := partners[rand.Intn(len(partners))]

		if s.pairingRule != nil {
			ok, err := s.pairAllowed(a, b, day)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		pairs = append(pairs, pair{a: a, b: b})
		pending[a.ID()]++
		pending[b.ID()]++
		available = s.availableAgents(pending)
	}

	return pairs, nil
}

// availableAgents returns agents with remaining daily capacity, counting
// pairs already chosen this phase against the cap
func (s *Simulation) availableAgents(pending map[string]int) []agents.Agent {
	var available []agents.Agent
	for _, agent := range s.agents {
		if agent.CanParticipate() && pending[agent.ID()] < s.maxConversationsPerAgent {
			available = append(available, agent)
		}
	}
	return available
}

// pairAllowed evaluates the template's pairing rule against a candidate pair
func (s *Simulation) pairAllowed(a, b agents.Agent, day int) (bool, error) {
	env := map[string]interface{}{
		"a":   pairingEnv(a),
		"b":   pairingEnv(b),
		"day": day,
	}

	result, err := vm.Run(s.pairingRule, env)
	if err != nil {
		return false, fmt.Errorf("pairing rule evaluation error: %w", err)
	}

	allowed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pairing rule must evaluate to a boolean, got %T", result)
	}
	return allowed, nil
}

func pairingEnv(a agents.Agent) map[string]interface{} {
	return map[string]interface{}{
		"name":   a.Name(),
		"role":   a.Role(),
		"powers": a.Powers(),
	}
}
