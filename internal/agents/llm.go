package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quangdng/agentarium/internal/experiment"
)

// maxContextChars bounds the context string sent with each generation request
const maxContextChars = 2000

// clipContext bounds a context string to maxContextChars, counting runes so
// a multi-byte character is never split
func clipContext(s string) string {
	runes := []rune(s)
	if len(runes) <= maxContextChars {
		return s
	}
	return string(runes[:maxContextChars])
}

// LLMAgent delegates message generation to a conversational model via
// OpenRouter. Persona prompts become the system message; the shared day
// context becomes the user message.
type LLMAgent struct {
	Persona

	client       *OpenRouterClient
	model        string
	systemPrompt string
}

// NewLLMAgent creates an LLM-backed agent from a persona. The common
// prompt is the experiment's content prompt, shared by all agents.
func NewLLMAgent(persona Persona, client *OpenRouterClient, model, commonPrompt string) *LLMAgent {
	parts := []string{}
	for _, p := range []string{commonPrompt, persona.FactionPrompt, persona.PersonalPrompt} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return &LLMAgent{
		Persona:      persona,
		client:       client,
		model:        model,
		systemPrompt: strings.Join(parts, " "),
	}
}

// SendMessageTo generates a message for another agent via the model
func (a *LLMAgent) SendMessageTo(ctx context.Context, other Agent, prompt string) (string, error) {
	user := clipContext(fmt.Sprintf("You are speaking with %s. %s", other.Name(), prompt))

	req := &CompletionRequest{
		Model: a.model,
		Messages: []Message{
			{Role: "system", Content: a.systemPrompt},
			{Role: "user", Content: user},
		},
	}

	resp, err := a.client.CreateCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("message generation failed for %s: %w", a.AgentName, err)
	}

	return resp.Choices[0].Message.Content, nil
}

const moderatorPersona = "You are an investigative journalist who has obtained the meeting notes " +
	"of a social experiment. Review the conversations and report on anything unusual, profiling " +
	"the participants whose behavior stands out. This is your final report; do not ask follow-up questions."

// LLMModerator delegates narrative analysis of the conversation log to a
// model and returns its raw output unmodified.
type LLMModerator struct {
	ModeratorID string

	client *OpenRouterClient
	model  string
}

// NewLLMModerator creates an LLM-backed moderator
func NewLLMModerator(id string, client *OpenRouterClient, model string) *LLMModerator {
	return &LLMModerator{ModeratorID: id, client: client, model: model}
}

// ReviewConversations serializes the log into a day-grouped transcript and
// asks the model for a report
func (m *LLMModerator) ReviewConversations(ctx context.Context, exp *experiment.Experiment, conversations []experiment.Conversation) (string, error) {
	transcript := BuildTranscript(exp, conversations)

	req := &CompletionRequest{
		Model:     m.model,
		MaxTokens: 2048,
		Messages: []Message{
			{Role: "system", Content: moderatorPersona},
			{Role: "user", Content: transcript},
		},
	}

	resp, err := m.client.CreateCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("report generation failed: %w", err)
	}

	return resp.Choices[0].Message.Content, nil
}

// BuildTranscript renders the conversation log grouped by day, each day's
// messages ordered by agent pair then sequence
func BuildTranscript(exp *experiment.Experiment, conversations []experiment.Conversation) string {
	var b strings.Builder

	for day := 1; day <= exp.Rounds; day++ {
		var dayRows []experiment.Conversation
		for _, c := range conversations {
			if c.Day == day {
				dayRows = append(dayRows, c)
			}
		}

		sort.Slice(dayRows, func(i, j int) bool {
			if dayRows[i].Sender != dayRows[j].Sender {
				return dayRows[i].Sender < dayRows[j].Sender
			}
			if dayRows[i].Recipient != dayRows[j].Recipient {
				return dayRows[i].Recipient < dayRows[j].Recipient
			}
			return dayRows[i].Sequence < dayRows[j].Sequence
		})

		fmt.Fprintf(&b, "Day %d: %d conversations\n", day, len(dayRows))
		for _, c := range dayRows {
			fmt.Fprintf(&b, "%s to %s: %s\n", c.Sender, c.Recipient, c.Text)
		}
	}

	return b.String()
}
