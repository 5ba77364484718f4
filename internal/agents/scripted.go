package agents

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/quangdng/agentarium/internal/experiment"
)

// ScriptedAgent generates messages from canned templates. It needs no
// external service and is the default provider.
type ScriptedAgent struct {
	Persona
}

// NewScriptedAgent creates a scripted agent from a persona
func NewScriptedAgent(persona Persona) *ScriptedAgent {
	return &ScriptedAgent{Persona: persona}
}

// SendMessageTo picks one of the agent's message templates and appends the
// shared context
func (a *ScriptedAgent) SendMessageTo(_ context.Context, other Agent, prompt string) (string, error) {
	templates := []string{
		fmt.Sprintf("Hello, I'm %s. %s", a.AgentName, a.PersonalPrompt),
		fmt.Sprintf("As someone who %s, I think we should discuss this.", strings.ToLower(a.FactionPrompt)),
		fmt.Sprintf("Hi %s, %s What's your perspective?", other.Name(), a.PersonalPrompt),
		fmt.Sprintf("Greetings. Given that %s, how do you see our situation?", strings.ToLower(a.FactionPrompt)),
		fmt.Sprintf("%s here. %s I'm curious about your thoughts.", a.AgentName, a.PersonalPrompt),
	}

	for _, power := range a.PowerSet {
		switch power {
		case "vote":
			templates = append(templates, fmt.Sprintf("I believe in democratic processes. What do you think, %s?", other.Name()))
		case "kill":
			templates = append(templates, "Sometimes decisive action is necessary. Don't you agree?")
		case "investigate":
			templates = append(templates, "I like to investigate all angles before deciding. What's your view?")
		}
	}

	message := templates[rand.Intn(len(templates))]
	if prompt != "" {
		message += fmt.Sprintf(" In this context: %s", prompt)
	}
	return message, nil
}

// ScriptedModerator assembles a fixed-format report from conversation
// counts. Its output is deterministic for a given input.
type ScriptedModerator struct {
	ModeratorID string
}

// NewScriptedModerator creates a scripted moderator
func NewScriptedModerator(id string) *ScriptedModerator {
	return &ScriptedModerator{ModeratorID: id}
}

// ReviewConversations produces a counting summary of the experiment
func (m *ScriptedModerator) ReviewConversations(_ context.Context, exp *experiment.Experiment, conversations []experiment.Conversation) (string, error) {
	if len(conversations) == 0 {
		return fmt.Sprintf("No conversations found for experiment %s", exp.ID), nil
	}

	dailyCounts := make(map[int]int)
	agentCounts := make(map[string]int)
	for _, c := range conversations {
		dailyCounts[c.Day]++
		agentCounts[c.Sender]++
		agentCounts[c.Recipient]++
	}

	days := make([]int, 0, len(dailyCounts))
	for day := range dailyCounts {
		days = append(days, day)
	}
	sort.Ints(days)

	names := make([]string, 0, len(agentCounts))
	for name := range agentCounts {
		names = append(names, name)
	}
	sort.Strings(names)

	mostActive := ""
	for _, name := range names {
		if mostActive == "" || agentCounts[name] > agentCounts[mostActive] {
			mostActive = name
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Experiment Report: %s\n", exp.ID)
	fmt.Fprintf(&b, "==================\n\n")
	fmt.Fprintf(&b, "Total messages: %d\n", len(conversations))
	fmt.Fprintf(&b, "Days simulated: %d\n", len(days))
	fmt.Fprintf(&b, "Unique participants: %d\n\n", len(names))

	b.WriteString("Daily activity:\n")
	for _, day := range days {
		fmt.Fprintf(&b, "  Day %d: %d messages\n", day, dailyCounts[day])
	}

	b.WriteString("\nAgent activity:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s: %d messages\n", name, agentCounts[name])
	}

	fmt.Fprintf(&b, "\nMost active agent: %s (%d messages)\n", mostActive, agentCounts[mostActive])

	return b.String(), nil
}
