package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/quangdng/agentarium/internal/experiment"
)

// DB wraps database operations. It is safe for concurrent use by multiple
// simulation runs.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, err
	}
	if err := db.ensureDefaultTemplate(); err != nil {
		return nil, err
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs database migrations
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		template_id TEXT PRIMARY KEY,
		description TEXT,
		template_data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS experiments (
		experiment_id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		num_agents INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (template_id) REFERENCES templates(template_id)
	);

	CREATE TABLE IF NOT EXISTS agent_counts (
		experiment_id TEXT NOT NULL,
		role TEXT NOT NULL,
		count INTEGER NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		experiment_id TEXT NOT NULL,
		day_no INTEGER NOT NULL,
		sequence_no INTEGER NOT NULL,
		agent_1 TEXT NOT NULL,
		agent_2 TEXT NOT NULL,
		text TEXT NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
	);

	CREATE TABLE IF NOT EXISTS experiment_results (
		experiment_id TEXT PRIMARY KEY,
		raw_report TEXT NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_experiment_id ON conversations(experiment_id);
	CREATE INDEX IF NOT EXISTS idx_agent_counts_experiment_id ON agent_counts(experiment_id);
	CREATE INDEX IF NOT EXISTS idx_experiments_created_at ON experiments(created_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// ensureDefaultTemplate seeds an example template when the table is empty
func (db *DB) ensureDefaultTemplate() error {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM templates").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaultData := map[string]interface{}{
		"template_name":           "Village Council",
		"rounds":                  5,
		"conversations_per_round": 6,
		"content_prompt":          "A small village debates how to spend its shared harvest surplus.",
		"factions": map[string]interface{}{
			"reformer": map[string]interface{}{
				"faction_prompt": "You believe the village must modernize to survive",
				"person_prompt": []string{
					"You are {name}, an outspoken advocate for building a new mill",
					"You are {name}, a young farmer who quietly supports change",
					"You are {name}, a trader who has seen how other villages prosper",
				},
				"agent_count": 6,
				"powers":      []string{"vote"},
			},
			"traditionalist": map[string]interface{}{
				"faction_prompt": "You believe the old ways have kept the village safe",
				"person_prompt": []string{
					"You are {name}, an elder wary of outside influence",
					"You are {name}, a farmer whose family has worked this land for generations",
				},
				"agent_count": 4,
				"powers":      []string{"vote", "investigate"},
			},
		},
	}

	data, err := json.Marshal(defaultData)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(`
		INSERT INTO templates (template_id, description, template_data)
		VALUES (?, ?, ?)
	`, "template-default", "Default village council template", string(data))
	return err
}

// Templates returns all stored templates
func (db *DB) Templates() ([]experiment.Template, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query("SELECT template_id, description, template_data FROM templates")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []experiment.Template
	for rows.Next() {
		var t experiment.Template
		if err := rows.Scan(&t.ID, &t.Description, &t.Data); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

// TemplateByID returns a template, or nil when it does not exist
func (db *DB) TemplateByID(id string) (*experiment.Template, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var t experiment.Template
	err := db.conn.QueryRow(`
		SELECT template_id, description, template_data FROM templates WHERE template_id = ?
	`, id).Scan(&t.ID, &t.Description, &t.Data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTemplate inserts a new template
func (db *DB) SaveTemplate(t experiment.Template) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO templates (template_id, description, template_data)
		VALUES (?, ?, ?)
	`, t.ID, t.Description, t.Data)
	return err
}

// UpdateTemplate replaces an existing template's description and document
func (db *DB) UpdateTemplate(t experiment.Template) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE templates SET description = ?, template_data = ? WHERE template_id = ?
	`, t.Description, t.Data, t.ID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("template %s not found", t.ID)
	}
	return nil
}

// InsertExperiment creates an experiment record with a generated id and
// pending status
func (db *DB) InsertExperiment(templateID string, numAgents int) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := uuid.New().String()
	_, err := db.conn.Exec(`
		INSERT INTO experiments (experiment_id, template_id, num_agents, status)
		VALUES (?, ?, ?, ?)
	`, id, templateID, numAgents, experiment.StatusPending)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ExperimentRow is an experiment joined with its template description
type ExperimentRow struct {
	ID                  string `json:"experiment_id"`
	TemplateID          string `json:"template_id"`
	TemplateDescription string `json:"template_description"`
	NumAgents           int    `json:"num_agents"`
	Status              string `json:"status"`
	CreatedAt           string `json:"created_at"`
}

// Experiments returns all experiments, newest first
func (db *DB) Experiments() ([]ExperimentRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT e.experiment_id, e.template_id, COALESCE(t.description, ''), e.num_agents, e.status, e.created_at
		FROM experiments e
		LEFT JOIN templates t ON e.template_id = t.template_id
		ORDER BY e.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var experiments []ExperimentRow
	for rows.Next() {
		var e ExperimentRow
		if err := rows.Scan(&e.ID, &e.TemplateID, &e.TemplateDescription, &e.NumAgents, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}

	return experiments, rows.Err()
}

// ExperimentByID returns an experiment, or nil when it does not exist
func (db *DB) ExperimentByID(id string) (*ExperimentRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var e ExperimentRow
	err := db.conn.QueryRow(`
		SELECT e.experiment_id, e.template_id, COALESCE(t.description, ''), e.num_agents, e.status, e.created_at
		FROM experiments e
		LEFT JOIN templates t ON e.template_id = t.template_id
		WHERE e.experiment_id = ?
	`, id).Scan(&e.ID, &e.TemplateID, &e.TemplateDescription, &e.NumAgents, &e.Status, &e.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateExperimentStatus sets an experiment's lifecycle status
func (db *DB) UpdateExperimentStatus(id, status string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		UPDATE experiments SET status = ? WHERE experiment_id = ?
	`, status, id)
	return err
}

// InsertAgentCounts stores the per-faction population snapshot
func (db *DB) InsertAgentCounts(experimentID string, counts []experiment.AgentCount) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ac := range counts {
		_, err := tx.Exec(`
			INSERT INTO agent_counts (experiment_id, role, count) VALUES (?, ?, ?)
		`, experimentID, ac.Role, ac.Count)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// InsertConversation appends one message row
func (db *DB) InsertConversation(c experiment.Conversation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO conversations (experiment_id, day_no, sequence_no, agent_1, agent_2, text)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ExperimentID, c.Day, c.Sequence, c.Sender, c.Recipient, c.Text)
	return err
}

// Conversations returns an experiment's rows ordered by day then sequence
func (db *DB) Conversations(experimentID string) ([]experiment.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT experiment_id, day_no, sequence_no, agent_1, agent_2, text
		FROM conversations
		WHERE experiment_id = ?
		ORDER BY day_no, sequence_no
	`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []experiment.Conversation
	for rows.Next() {
		var c experiment.Conversation
		if err := rows.Scan(&c.ExperimentID, &c.Day, &c.Sequence, &c.Sender, &c.Recipient, &c.Text); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

// InsertResult stores the final moderator report
func (db *DB) InsertResult(r experiment.Result) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO experiment_results (experiment_id, raw_report) VALUES (?, ?)
	`, r.ExperimentID, r.RawReport)
	return err
}

// Result returns the final report and whether one exists. The report text
// itself may legitimately be empty.
func (db *DB) Result(experimentID string) (string, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var report string
	err := db.conn.QueryRow(`
		SELECT raw_report FROM experiment_results WHERE experiment_id = ?
	`, experimentID).Scan(&report)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return report, true, nil
}

// DeleteExperiment removes an experiment and all its dependent rows
func (db *DB) DeleteExperiment(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM conversations WHERE experiment_id = ?",
		"DELETE FROM agent_counts WHERE experiment_id = ?",
		"DELETE FROM experiment_results WHERE experiment_id = ?",
		"DELETE FROM experiments WHERE experiment_id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}
