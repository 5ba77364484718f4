package sim

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/quangdng/agentarium/internal/agents"
	"github.com/quangdng/agentarium/internal/experiment"
)

// Defaults applied when neither the request nor the template sets a value
const (
	DefaultRounds                   = 5
	DefaultConversationsPerRound    = 6
	DefaultMaxConversationsPerAgent = 3
	DefaultMaxMessageLength         = 500
)

// StoreError wraps a persistence failure during simulation construction,
// distinguishing it from configuration errors the caller provoked.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// Options override template settings for a single run. Zero values fall
// back to the template, then to the defaults above.
type Options struct {
	Rounds                   int
	ConversationsPerRound    int
	MaxConversationsPerAgent int
	MaxMessageLength         int
}

// Simulation drives one experiment run: day-by-day rounds, pair selection,
// exchange execution, persistence, and end-of-run reporting. Each run owns
// its agent set and sequence counter; runs never share mutable state.
type Simulation struct {
	store     Store
	moderator agents.Moderator

	experiment *experiment.Experiment
	data       *experiment.TemplateData

	agents []agents.Agent
	lookup map[string]agents.Agent

	rounds                   int
	conversationsPerRound    int
	maxConversationsPerAgent int
	maxMessageLength         int

	pairingRule *vm.Program
	sequence    int
}

// NewSimulation loads and validates the template, builds the agent
// population, and creates the experiment record. Configuration errors are
// returned here, before anything durable beyond the experiment row exists.
func NewSimulation(store Store, templateID string, moderator agents.Moderator, factory AgentFactory, opts Options) (*Simulation, error) {
	tmpl, err := store.TemplateByID(templateID)
	if err != nil {
		return nil, &StoreError{Err: fmt.Errorf("failed to load template %s: %w", templateID, err)}
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %s not found", templateID)
	}

	data, err := experiment.ParseTemplateData(tmpl.Data)
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		store:                    store,
		moderator:                moderator,
		data:                     data,
		rounds:                   resolve(opts.Rounds, data.Rounds, DefaultRounds),
		conversationsPerRound:    resolve(opts.ConversationsPerRound, data.ConversationsPerRound, DefaultConversationsPerRound),
		maxConversationsPerAgent: resolve(opts.MaxConversationsPerAgent, 0, DefaultMaxConversationsPerAgent),
		maxMessageLength:         resolve(opts.MaxMessageLength, 0, DefaultMaxMessageLength),
	}

	if data.PairingRule != "" {
		program, err := expr.Compile(data.PairingRule)
		if err != nil {
			return nil, fmt.Errorf("invalid pairing rule: %w", err)
		}
		s.pairingRule = program
	}

	s.agents, s.lookup = buildAgents(data, s.maxConversationsPerAgent, factory)

	id, err := store.InsertExperiment(templateID, len(s.agents))
	if err != nil {
		return nil, &StoreError{Err: fmt.Errorf("failed to create experiment record: %w", err)}
	}

	s.experiment = &experiment.Experiment{
		ID:         id,
		TemplateID: templateID,
		NumAgents:  len(s.agents),
		Status:     experiment.StatusPending,
		Rounds:     s.rounds,
		CreatedAt:  time.Now(),
	}

	if err := store.InsertAgentCounts(id, s.agentCounts()); err != nil {
		return nil, &StoreError{Err: fmt.Errorf("failed to record agent counts: %w", err)}
	}

	return s, nil
}

// ExperimentID returns the run's experiment identifier, available
// immediately after construction
func (s *Simulation) ExperimentID() string {
	return s.experiment.ID
}

// NumAgents returns the size of the agent population
func (s *Simulation) NumAgents() int {
	return len(s.agents)
}

// AgentByName looks up an agent by generated name or id
func (s *Simulation) AgentByName(name string) agents.Agent {
	return s.lookup[name]
}

// agentCounts snapshots the per-faction population in faction order
func (s *Simulation) agentCounts() []experiment.AgentCount {
	counts := make(map[string]int)
	for _, agent := range s.agents {
		counts[agent.Role()]++
	}

	var out []experiment.AgentCount
	for _, faction := range s.data.FactionOrder {
		if n, ok := counts[faction]; ok {
			out = append(out, experiment.AgentCount{
				ExperimentID: s.experiment.ID,
				Role:         faction,
				Count:        n,
			})
		}
	}
	return out
}

// Run executes the full simulation. On error the run is abandoned and the
// caller marks the experiment failed; partial conversation rows remain but
// no result is written.
func (s *Simulation) Run(ctx context.Context) error {
	log.Printf("experiment %s: starting with %d agents for %d rounds", s.experiment.ID, len(s.agents), s.rounds)

	if err := s.store.UpdateExperimentStatus(s.experiment.ID, experiment.StatusRunning); err != nil {
		return err
	}
	s.experiment.Status = experiment.StatusRunning

	for day := 1; day <= s.rounds; day++ {
		if err := s.runDay(ctx, day); err != nil {
			return fmt.Errorf("day %d: %w", day, err)
		}
	}

	all, err := s.store.Conversations(s.experiment.ID)
	if err != nil {
		return err
	}

	for _, agent := range s.agents {
		agent.End(all)
	}

	log.Printf("experiment %s: generating final report", s.experiment.ID)
	report, err := s.moderator.ReviewConversations(ctx, s.experiment, all)
	if err != nil {
		return err
	}

	if err := s.store.InsertResult(experiment.Result{ExperimentID: s.experiment.ID, RawReport: report}); err != nil {
		return err
	}

	if err := s.store.UpdateExperimentStatus(s.experiment.ID, experiment.StatusCompleted); err != nil {
		return err
	}
	s.experiment.Status = experiment.StatusCompleted

	log.Printf("experiment %s: completed", s.experiment.ID)
	return nil
}

// runDay resets daily counters, selects pairs, executes their exchanges in
// order, and runs every agent's rest hook with its own conversations
func (s *Simulation) runDay(ctx context.Context, day int) error {
	for _, agent := range s.agents {
		agent.ResetDailyCount()
	}

	pairs, err := s.generatePairs(day)
	if err != nil {
		return err
	}
	log.Printf("experiment %s: day %d, %d pairs", s.experiment.ID, day, len(pairs))

	dayContext := fmt.Sprintf("Day %d of %s.", day, s.data.TemplateName)
	if s.data.ContentPrompt != "" {
		dayContext += " " + s.data.ContentPrompt
	}

	var today []experiment.Conversation
	for _, p := range pairs {
		if !p.a.CanParticipate() || !p.b.CanParticipate() {
			continue
		}
		rows, err := s.exchange(ctx, day, dayContext, p.a, p.b)
		if err != nil {
			return err
		}
		today = append(today, rows...)
	}

	for _, agent := range s.agents {
		var mine []experiment.Conversation
		for _, c := range today {
			if c.Involves(agent.Name()) {
				mine = append(mine, c)
			}
		}
		agent.Rest(mine)
	}

	return nil
}

// exchange runs the two-message round trip for one pair. It always
// persists exactly two rows; the participation cap is checked before the
// pair starts, not between the halves.
func (s *Simulation) exchange(ctx context.Context, day int, dayContext string, a, b agents.Agent) ([]experiment.Conversation, error) {
	msgA, err := a.SendMessageTo(ctx, b, dayContext)
	if err != nil {
		return nil, err
	}
	msgA = truncate(msgA, s.maxMessageLength)

	rowA := experiment.Conversation{
		ExperimentID: s.experiment.ID,
		Day:          day,
		Sequence:     s.sequence,
		Sender:       a.Name(),
		Recipient:    b.Name(),
		Text:         msgA,
	}
	if err := s.store.InsertConversation(rowA); err != nil {
		return nil, err
	}
	s.sequence++
	b.ReceiveMessage(msgA, a)
	a.MarkConversation()

	msgB, err := b.SendMessageTo(ctx, a, fmt.Sprintf("Responding to: %s...", truncate(msgA, 50)))
	if err != nil {
		return nil, err
	}
	msgB = truncate(msgB, s.maxMessageLength)

	rowB := experiment.Conversation{
		ExperimentID: s.experiment.ID,
		Day:          day,
		Sequence:     s.sequence,
		Sender:       b.Name(),
		Recipient:    a.Name(),
		Text:         msgB,
	}
	if err := s.store.InsertConversation(rowB); err != nil {
		return nil, err
	}
	s.sequence++
	a.ReceiveMessage(msgB, b)
	b.MarkConversation()

	return []experiment.Conversation{rowA, rowB}, nil
}

// truncate limits a message to max characters, counting runes
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func resolve(override, templateValue, fallback int) int {
	if override > 0 {
		return override
	}
	if templateValue > 0 {
		return templateValue
	}
	return fallback
}
