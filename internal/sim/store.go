package sim

import "github.com/quangdng/agentarium/internal/experiment"

// Store is the persistence gateway the scheduler writes through. All
// operations must be durable and immediately visible to subsequent reads,
// and safe for concurrent use by independent simulation runs.
type Store interface {
	TemplateByID(id string) (*experiment.Template, error)
	InsertExperiment(templateID string, numAgents int) (string, error)
	UpdateExperimentStatus(id, status string) error
	InsertAgentCounts(experimentID string, counts []experiment.AgentCount) error
	InsertConversation(c experiment.Conversation) error
	// Conversations returns an experiment's rows ordered by day then sequence.
	Conversations(experimentID string) ([]experiment.Conversation, error)
	InsertResult(r experiment.Result) error
}
