package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wapipe/internal/ai"
	"wapipe/internal/models"
	"wapipe/internal/store"
)

// maxDepth caps DAG traversal so a cyclic workflow cannot loop forever.
const maxDepth = 10

// defaultHandoffPause suppresses AI after an agent handoff when the node
// does not specify its own pause window.
const defaultHandoffPause = 30 * time.Minute

// Node is one step in a visual workflow.
type Node struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Data NodeData `json:"data"`
}

type NodeData struct {
	TriggerType  string `json:"triggerType,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Value        string `json:"value,omitempty"`
	ActionType   string `json:"actionType,omitempty"`
	Text         string `json:"text,omitempty"`
	TemplateName string `json:"templateName,omitempty"`
	Language     string `json:"language,omitempty"`
	PauseMinutes int    `json:"pauseMinutes,omitempty"`
	Mode         string `json:"mode,omitempty"`
}

// Edge connects two nodes. SourceHandle "true"/"false" selects a condition
// branch.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// EventContext is the trigger payload handed to workflow evaluation.
type EventContext struct {
	From           string
	MessageBody    string
	ContactID      string
	ConversationID string
}

// TriggerNewMessage is the event name fired for every inbound message.
const TriggerNewMessage = "new_message"

// Engine executes visual workflows. Handoff side effects (aiMode changes)
// are persisted through the conversation store before the caller consults
// the AI gate.
type Engine struct {
	workflows     *store.AutomationStore
	conversations *store.ConversationStore
	sender        Sender
	aiService     ai.Service
}

func NewEngine(workflows *store.AutomationStore, conversations *store.ConversationStore, sender Sender, aiService ai.Service) *Engine {
	return &Engine{
		workflows:     workflows,
		conversations: conversations,
		sender:        sender,
		aiService:     aiService,
	}
}

// run tracks per-execution state; handled flips when a terminal node
// (action, template, ai_agent, chat) fires.
type run struct {
	workflow *models.Workflow
	nodes    []Node
	edges    []Edge
	ctx      EventContext
	tenantID string
	handled  bool
}

// ExecuteTrigger evaluates every active workflow whose trigger matches the
// event. Conversations under human control are skipped entirely. Returns
// whether any workflow claimed the message.
func (e *Engine) ExecuteTrigger(ctx context.Context, tenantID, triggerType string, evCtx EventContext) (bool, error) {
	workflows, err := e.workflows.ActiveWorkflows(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if len(workflows) == 0 {
		return false, nil
	}

	if evCtx.ConversationID != "" {
		conv, err := e.conversations.ByID(ctx, evCtx.ConversationID)
		if err != nil {
			return false, err
		}
		if conv.AIMode == models.AIModeHuman {
			log.Info().
				Str("conversationID", evCtx.ConversationID).
				Msg("Skipping workflow triggers, conversation under human control")
			return false, nil
		}
	}

	handled := false
	for i := range workflows {
		wf := &workflows[i]
		r, trigger, err := e.prepare(wf, triggerType, evCtx, tenantID)
		if err != nil {
			log.Error().Err(err).Str("workflowID", wf.ID).Msg("Skipping malformed workflow")
			continue
		}
		if trigger == nil {
			continue
		}

		log.Info().Str("workflowID", wf.ID).Str("tenantID", tenantID).Msg("Starting workflow")
		if err := e.runNode(ctx, r, trigger.ID, 0); err != nil {
			log.Error().Err(err).Str("workflowID", wf.ID).Msg("Workflow execution failed")
			continue
		}
		if r.handled {
			handled = true
			break // first handler wins, later workflows skip
		}
	}
	return handled, nil
}

func (e *Engine) prepare(wf *models.Workflow, triggerType string, evCtx EventContext, tenantID string) (*run, *Node, error) {
	var nodes []Node
	if err := json.Unmarshal(wf.Nodes, &nodes); err != nil {
		return nil, nil, fmt.Errorf("failed to decode workflow nodes: %w", err)
	}
	var edges []Edge
	if err := json.Unmarshal(wf.Edges, &edges); err != nil {
		return nil, nil, fmt.Errorf("failed to decode workflow edges: %w", err)
	}

	r := &run{workflow: wf, nodes: nodes, edges: edges, ctx: evCtx, tenantID: tenantID}
	for i := range nodes {
		if nodes[i].Type == "trigger" && nodes[i].Data.TriggerType == triggerType {
			return r, &nodes[i], nil
		}
	}
	return r, nil, nil
}

func (e *Engine) runNode(ctx context.Context, r *run, nodeID string, depth int) error {
	if depth > maxDepth {
		log.Warn().Str("workflowID", r.workflow.ID).Msg("Max workflow depth reached")
		return nil
	}

	current := r.node(nodeID)

	for _, edge := range r.edges {
		if edge.Source != nodeID {
			continue
		}
		// A condition node's verdict selects which outgoing edges fire,
		// keyed by the edge's true/false handle.
		if current != nil && current.Type == "condition" && !branchTaken(current, edge, r.ctx.MessageBody) {
			continue
		}
		next := r.node(edge.Target)
		if next == nil {
			continue
		}

		shouldContinue := true
		var err error

		switch next.Type {
		case "condition":
			// Evaluated on the way out, when its own edges are walked.
		case "action":
			err = e.executeAction(ctx, r, next)
			r.handled = true
		case "template":
			err = e.sender.SendTemplate(ctx, r.tenantID, r.ctx.From, next.Data.TemplateName, next.Data.Language)
			r.handled = true
		case "ai_agent":
			e.aiService.Process(ctx, r.tenantID, r.ctx.From, r.ctx.MessageBody)
			r.handled = true
			shouldContinue = false
		case "chat":
			err = e.handleHandoff(ctx, r, next)
			r.handled = true
			shouldContinue = false
		default:
			// Unknown node types pass through so older workflows built
			// against a newer editor keep running.
		}

		if err != nil {
			log.Error().Err(err).
				Str("workflowID", r.workflow.ID).
				Str("nodeID", next.ID).
				Str("nodeType", next.Type).
				Msg("Workflow node failed")
			continue
		}

		if shouldContinue {
			if err := e.runNode(ctx, r, next.ID, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) node(id string) *Node {
	for i := range r.nodes {
		if r.nodes[i].ID == id {
			return &r.nodes[i]
		}
	}
	return nil
}

func branchTaken(cond *Node, edge Edge, messageBody string) bool {
	body := strings.ToLower(messageBody)
	val := strings.ToLower(cond.Data.Value)

	var match bool
	switch cond.Data.Condition {
	case "contains":
		match = strings.Contains(body, val)
	case "exact":
		match = body == val
	default:
		match = true
	}

	switch edge.SourceHandle {
	case "true":
		return match
	case "false":
		return !match
	default:
		return match
	}
}

func (e *Engine) executeAction(ctx context.Context, r *run, node *Node) error {
	// Only whatsapp sends exist today; an empty actionType means the same.
	if node.Data.ActionType != "" && node.Data.ActionType != "send_whatsapp" {
		return nil
	}
	text := node.Data.Text
	if text == "" {
		text = "Hello from Automation"
	}
	return e.sender.SendText(ctx, r.tenantID, r.ctx.From, text)
}

// handleHandoff moves the conversation to a human. Mode "paused" suppresses
// AI for a window; anything else parks it in human mode until an operator
// acts.
func (e *Engine) handleHandoff(ctx context.Context, r *run, node *Node) error {
	if r.ctx.ConversationID == "" {
		return nil
	}

	log.Info().
		Str("conversationID", r.ctx.ConversationID).
		Str("contactID", r.ctx.ContactID).
		Msg("Executing agent handoff")

	if node.Data.Mode == string(models.AIModePaused) {
		pause := defaultHandoffPause
		if node.Data.PauseMinutes > 0 {
			pause = time.Duration(node.Data.PauseMinutes) * time.Minute
		}
		until := time.Now().UTC().Add(pause)
		return e.conversations.SetAIMode(ctx, r.ctx.ConversationID, models.AIModePaused, &until)
	}
	return e.conversations.SetAIMode(ctx, r.ctx.ConversationID, models.AIModeHuman, nil)
}
