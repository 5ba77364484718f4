package agents

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/quangdng/agentarium/internal/experiment"
)

// Agent is a simulation participant. The scheduler depends only on this
// interface; swapping providers requires no change to pairing or day logic.
type Agent interface {
	ID() string
	Name() string
	Role() string
	Powers() []string

	// SendMessageTo produces a message addressed to another agent given a
	// shared context string.
	SendMessageTo(ctx context.Context, other Agent, prompt string) (string, error)
	// ReceiveMessage records an incoming message in the agent's memory.
	ReceiveMessage(text string, sender Agent)
	// Rest runs the end-of-day hook with the conversations the agent
	// participated in that day.
	Rest(today []experiment.Conversation)
	// End runs the end-of-run hook with the full conversation log.
	End(all []experiment.Conversation)

	CanParticipate() bool
	ResetDailyCount()
	MarkConversation()
}

// Moderator reviews the full conversation log and produces a free-text report
type Moderator interface {
	ReviewConversations(ctx context.Context, exp *experiment.Experiment, conversations []experiment.Conversation) (string, error)
}

// ReceivedMessage is one entry in an agent's message memory
type ReceivedMessage struct {
	From string
	Role string
	Text string
}

// Memory is an agent's scratch state, accumulated across the run
type Memory struct {
	Received           []ReceivedMessage
	Mood               string
	DailyConversations int
	MostActivePartner  string
	TotalConversations int
	FinalAssessment    string
}

// Persona carries the identity and participation state shared by all agent
// providers. Concrete providers embed it and add message generation.
type Persona struct {
	AgentID                string
	AgentName              string
	Faction                string
	FactionPrompt          string
	PersonalPrompt         string
	PowerSet               []string
	MaxConversationsPerDay int

	conversationCount int
	Memory            Memory
}

func (p *Persona) ID() string       { return p.AgentID }
func (p *Persona) Name() string     { return p.AgentName }
func (p *Persona) Role() string     { return p.Faction }
func (p *Persona) Powers() []string { return p.PowerSet }

// CanParticipate reports whether the agent is below its daily conversation cap
func (p *Persona) CanParticipate() bool {
	return p.conversationCount < p.MaxConversationsPerDay
}

// ResetDailyCount zeroes the daily conversation counter
func (p *Persona) ResetDailyCount() {
	p.conversationCount = 0
}

// MarkConversation consumes one unit of the daily participation budget
func (p *Persona) MarkConversation() {
	p.conversationCount++
}

// ReceiveMessage records the sender, content, and sender role in memory
func (p *Persona) ReceiveMessage(text string, sender Agent) {
	p.Memory.Received = append(p.Memory.Received, ReceivedMessage{
		From: sender.Name(),
		Role: sender.Role(),
		Text: text,
	})
}

// Rest updates mood and daily activity state from the day's conversations
func (p *Persona) Rest(today []experiment.Conversation) {
	p.Memory.DailyConversations = len(today)
	p.Memory.Mood = moods[rand.Intn(len(moods))]

	if len(today) > 0 {
		p.Memory.MostActivePartner = mostActivePartner(p.AgentName, today)
	}
}

// End computes the agent's final participation summary
func (p *Persona) End(all []experiment.Conversation) {
	total := 0
	for _, c := range all {
		if c.Involves(p.AgentName) {
			total++
		}
	}
	p.Memory.TotalConversations = total
	p.Memory.FinalAssessment = fmt.Sprintf("%s participated in %d conversations", p.AgentName, total)
}

var moods = []string{"confident", "suspicious", "cooperative", "defensive"}

// mostActivePartner returns the counterpart the agent exchanged the most
// messages with. Ties break toward the lexicographically smaller name.
func mostActivePartner(name string, conversations []experiment.Conversation) string {
	counts := make(map[string]int)
	for _, c := range conversations {
		switch name {
		case c.Sender:
			counts[c.Recipient]++
		case c.Recipient:
			counts[c.Sender]++
		}
	}

	partners := make([]string, 0, len(counts))
	for partner := range counts {
		partners = append(partners, partner)
	}
	sort.Strings(partners)

	best := ""
	for _, partner := range partners {
		if best == "" || counts[partner] > counts[best] {
			best = partner
		}
	}
	return best
}
