package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"wapipe/internal/models"
)

// AutomationStore persists keyword rules and visual workflows. CRUD beyond
// what the pipeline needs lives in the dashboard API, not here.
type AutomationStore struct {
	db *sqlx.DB
}

func NewAutomationStore(db *sqlx.DB) *AutomationStore {
	return &AutomationStore{db: db}
}

// ActiveRules lists a tenant's active keyword rules.
func (s *AutomationStore) ActiveRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	query := s.db.Rebind(`SELECT * FROM automation_rules WHERE tenant_id = ? AND is_active = ?`)
	if err := s.db.SelectContext(ctx, &rules, query, tenantID, true); err != nil {
		return nil, fmt.Errorf("failed to list automation rules: %w", err)
	}
	return rules, nil
}

// ActiveWorkflows lists a tenant's active workflows.
func (s *AutomationStore) ActiveWorkflows(ctx context.Context, tenantID string) ([]models.Workflow, error) {
	var workflows []models.Workflow
	query := s.db.Rebind(`SELECT * FROM workflows WHERE tenant_id = ? AND is_active = ?`)
	if err := s.db.SelectContext(ctx, &workflows, query, tenantID, true); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return workflows, nil
}

// CreateRule inserts a keyword rule. Used by seeding and tests.
func (s *AutomationStore) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.MatchType == "" {
		rule.MatchType = models.MatchContains
	}
	query := s.db.Rebind(`
		INSERT INTO automation_rules (id, tenant_id, keyword, match_type, reply_text, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, rule.ID, rule.TenantID, rule.Keyword, rule.MatchType, rule.ReplyText, rule.IsActive); err != nil {
		return fmt.Errorf("failed to create automation rule: %w", err)
	}
	return nil
}

// CreateWorkflow inserts a workflow. Used by seeding and tests.
func (s *AutomationStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	query := s.db.Rebind(`
		INSERT INTO workflows (id, tenant_id, name, is_active, nodes, edges)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, wf.ID, wf.TenantID, wf.Name, wf.IsActive, string(wf.Nodes), string(wf.Edges)); err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}
