package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quangdng/agentarium/internal/agents"
	"github.com/quangdng/agentarium/internal/config"
	"github.com/quangdng/agentarium/internal/db"
	"github.com/quangdng/agentarium/internal/experiment"
	mw "github.com/quangdng/agentarium/internal/middleware"
	"github.com/quangdng/agentarium/internal/sim"
	"github.com/quangdng/agentarium/internal/validation"
)

// Server handles HTTP requests
type Server struct {
	router      chi.Router
	db          *db.DB
	cfg         *config.Config
	llmClient   *agents.OpenRouterClient
	rateLimiter *mw.RateLimiter
}

// NewServer creates a new API server
func NewServer(database *db.DB, cfg *config.Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		db:          database,
		cfg:         cfg,
		rateLimiter: mw.NewRateLimiter(cfg.RateLimitRPS),
	}

	if cfg.AgentProvider == config.ProviderLLM {
		s.llmClient = agents.NewOpenRouterClient()
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(mw.MaxBodySize(1024 * 1024)) // 1MB max

	s.router.Get("/health", s.health)

	s.router.Group(func(r chi.Router) {
		r.Use(mw.Auth(s.cfg.JWTSecret))

		r.Get("/api/templates", s.listTemplates)
		r.Post("/api/templates", s.createTemplate)
		r.Get("/api/templates/{id}", s.getTemplate)
		r.Put("/api/templates/{id}", s.updateTemplate)

		r.Get("/api/experiments", s.listExperiments)
		r.Post("/api/experiments", s.runExperiment)
		r.Get("/api/experiments/{id}", s.getExperiment)
		r.Get("/api/experiments/{id}/status", s.getExperimentStatus)
		r.Get("/api/experiments/{id}/conversations", s.getConversations)
		r.Get("/api/experiments/{id}/result", s.getResult)
		r.Delete("/api/experiments/{id}", s.deleteExperiment)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response wraps API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response (sanitized)
func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// moderator builds the configured moderator provider
func (s *Server) moderator() agents.Moderator {
	if s.cfg.AgentProvider == config.ProviderLLM {
		return agents.NewLLMModerator("mod-001", s.llmClient, s.cfg.OpenRouterModel)
	}
	return agents.NewScriptedModerator("mod-001")
}

// agentFactory builds the configured agent provider factory
func (s *Server) agentFactory(contentPrompt string) sim.AgentFactory {
	if s.cfg.AgentProvider == config.ProviderLLM {
		return func(persona agents.Persona) agents.Agent {
			return agents.NewLLMAgent(persona, s.llmClient, s.cfg.OpenRouterModel, contentPrompt)
		}
	}
	return func(persona agents.Persona) agents.Agent {
		return agents.NewScriptedAgent(persona)
	}
}

// templateSummary is the list view of a template
type templateSummary struct {
	TemplateID            string   `json:"template_id"`
	Description           string   `json:"description"`
	TemplateName          string   `json:"template_name"`
	Rounds                int      `json:"rounds"`
	ConversationsPerRound int      `json:"conversations_per_round"`
	Factions              []string `json:"factions"`
}

// listTemplates lists all templates with parsed summary fields
func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.db.Templates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}

	summaries := make([]templateSummary, 0, len(templates))
	for _, t := range templates {
		summary := templateSummary{
			TemplateID:  t.ID,
			Description: t.Description,
		}
		if data, err := experiment.ParseTemplateData(t.Data); err == nil {
			summary.TemplateName = data.TemplateName
			summary.Rounds = data.Rounds
			summary.ConversationsPerRound = data.ConversationsPerRound
			summary.Factions = data.FactionOrder
		} else {
			summary.TemplateName = "Unknown"
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: summaries})
}

// createTemplate stores a new template
func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID   string          `json:"template_id"`
		Description  string          `json:"description"`
		TemplateData json.RawMessage `json:"template_data"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validation.ValidateTemplateID(req.TemplateID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := experiment.ParseTemplateData(string(req.TemplateData)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.db.TemplateByID(req.TemplateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check template")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Template already exists")
		return
	}

	tmpl := experiment.Template{
		ID:          req.TemplateID,
		Description: req.Description,
		Data:        string(req.TemplateData),
	}
	if err := s.db.SaveTemplate(tmpl); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save template")
		return
	}

	writeJSON(w, http.StatusCreated, Response{Success: true, Data: tmpl})
}

// getTemplate returns the full template document
func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := validation.ValidateTemplateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid template ID")
		return
	}

	tmpl, err := s.db.TemplateByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load template")
		return
	}
	if tmpl == nil {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: tmpl})
}

// updateTemplate replaces an existing template document
func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := validation.ValidateTemplateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid template ID")
		return
	}

	var req struct {
		Description  string          `json:"description"`
		TemplateData json.RawMessage `json:"template_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := experiment.ParseTemplateData(string(req.TemplateData)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmpl := experiment.Template{
		ID:          id,
		Description: req.Description,
		Data:        string(req.TemplateData),
	}
	if err := s.db.UpdateTemplate(tmpl); err != nil {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: tmpl})
}

// listExperiments lists all experiments with their template info
func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.db.Experiments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list experiments")
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: experiments})
}

// runExperiment constructs a simulation and starts it in the background
func (s *Server) runExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID               string `json:"template_id"`
		Rounds                   int    `json:"rounds"`
		ConversationsPerRound    int    `json:"conversations_per_round"`
		MaxConversationsPerAgent int    `json:"max_conversations_per_agent"`
		MaxMessageLength         int    `json:"max_message_length"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validation.ValidateTemplateID(req.TemplateID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid template ID")
		return
	}

	tmpl, err := s.db.TemplateByID(req.TemplateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load template")
		return
	}
	if tmpl == nil {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}

	contentPrompt := ""
	if data, err := experiment.ParseTemplateData(tmpl.Data); err == nil {
		contentPrompt = data.ContentPrompt
	}

	simulation, err := sim.NewSimulation(s.db, req.TemplateID, s.moderator(), s.agentFactory(contentPrompt), sim.Options{
		Rounds:                   req.Rounds,
		ConversationsPerRound:    req.ConversationsPerRound,
		MaxConversationsPerAgent: req.MaxConversationsPerAgent,
		MaxMessageLength:         req.MaxMessageLength,
	})
	if err != nil {
		// Configuration errors are the caller's; persistence failures are not
		var storeErr *sim.StoreError
		if errors.As(err, &storeErr) {
			writeError(w, http.StatusInternalServerError, "Failed to create experiment")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	go s.runInBackground(simulation)

	writeJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: map[string]interface{}{
			"experiment_id": simulation.ExperimentID(),
			"status":        experiment.StatusPending,
			"num_agents":    simulation.NumAgents(),
		},
	})
}

// runInBackground executes a simulation run and marks it failed on error
func (s *Server) runInBackground(simulation *sim.Simulation) {
	if err := simulation.Run(context.Background()); err != nil {
		log.Printf("experiment %s failed: %v", simulation.ExperimentID(), err)
		if err := s.db.UpdateExperimentStatus(simulation.ExperimentID(), experiment.StatusFailed); err != nil {
			log.Printf("experiment %s: failed to mark failed: %v", simulation.ExperimentID(), err)
		}
	}
}

// lookupExperiment resolves the experiment row for an id path parameter,
// writing the error response when it cannot
func (s *Server) lookupExperiment(w http.ResponseWriter, r *http.Request) *db.ExperimentRow {
	id := chi.URLParam(r, "id")

	if err := validation.ValidateExperimentID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid experiment ID")
		return nil
	}

	exp, err := s.db.ExperimentByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load experiment")
		return nil
	}
	if exp == nil {
		writeError(w, http.StatusNotFound, "Experiment not found")
		return nil
	}
	return exp
}

// getExperiment returns experiment details
func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) {
	exp := s.lookupExperiment(w, r)
	if exp == nil {
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: exp})
}

// getExperimentStatus returns the experiment's lifecycle status
func (s *Server) getExperimentStatus(w http.ResponseWriter, r *http.Request) {
	exp := s.lookupExperiment(w, r)
	if exp == nil {
		return
	}

	status := exp.Status
	if status == "" {
		status = experiment.StatusUnknown
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]string{
			"experiment_id": exp.ID,
			"status":        status,
		},
	})
}

// dayGroup is one day's conversations in the grouped view
type dayGroup struct {
	Day           int                       `json:"day"`
	Conversations []experiment.Conversation `json:"conversations"`
}

// getConversations returns the experiment's messages grouped by day
func (s *Server) getConversations(w http.ResponseWriter, r *http.Request) {
	exp := s.lookupExperiment(w, r)
	if exp == nil {
		return
	}

	conversations, err := s.db.Conversations(exp.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load conversations")
		return
	}

	// Rows arrive ordered by day then sequence, so days group contiguously
	var groups []dayGroup
	for _, c := range conversations {
		if len(groups) == 0 || groups[len(groups)-1].Day != c.Day {
			groups = append(groups, dayGroup{Day: c.Day})
		}
		groups[len(groups)-1].Conversations = append(groups[len(groups)-1].Conversations, c)
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: groups})
}

// getResult returns the final moderator report
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	exp := s.lookupExperiment(w, r)
	if exp == nil {
		return
	}

	report, found, err := s.db.Result(exp.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load result")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Result not found - experiment may not be completed yet")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]string{
			"experiment_id": exp.ID,
			"raw_report":    report,
		},
	})
}

// deleteExperiment removes an experiment and all its data
func (s *Server) deleteExperiment(w http.ResponseWriter, r *http.Request) {
	exp := s.lookupExperiment(w, r)
	if exp == nil {
		return
	}

	if exp.Status == experiment.StatusRunning {
		writeError(w, http.StatusConflict, "Cannot delete a running experiment")
		return
	}

	if err := s.db.DeleteExperiment(exp.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete experiment")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]string{
			"experiment_id": exp.ID,
			"message":       "Experiment deleted",
		},
	})
}

// health reports database connectivity and basic counts
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	templates, err := s.db.Templates()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "database unavailable",
		})
		return
	}

	experiments, err := s.db.Experiments()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "database unavailable",
		})
		return
	}

	running := 0
	for _, e := range experiments {
		if e.Status == experiment.StatusRunning {
			running++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "healthy",
		"database":            "connected",
		"templates_count":     len(templates),
		"total_experiments":   len(experiments),
		"running_experiments": running,
	})
}
