package automation

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Router chains the automation layers over one inbound message. Workflows
// run first, keyword rules second; the first layer that claims the message
// stops the chain so a contact never receives two automated replies.
type Router struct {
	engine   *Engine
	keywords *KeywordEvaluator
}

func NewRouter(engine *Engine, keywords *KeywordEvaluator) *Router {
	return &Router{engine: engine, keywords: keywords}
}

// Route returns true when any automation handled the message. Layer errors
// are logged and the chain moves on: a broken workflow must not silence the
// keyword rules.
func (r *Router) Route(ctx context.Context, tenantID string, evCtx EventContext) bool {
	if r.engine != nil {
		handled, err := r.engine.ExecuteTrigger(ctx, tenantID, TriggerNewMessage, evCtx)
		if err != nil {
			log.Error().Err(err).Str("tenantID", tenantID).Msg("Workflow evaluation failed")
		} else if handled {
			return true
		}
	}

	if r.keywords != nil {
		handled, err := r.keywords.Evaluate(ctx, tenantID, evCtx.From, evCtx.MessageBody)
		if err != nil {
			log.Error().Err(err).Str("tenantID", tenantID).Msg("Keyword evaluation failed")
		} else if handled {
			return true
		}
	}
	return false
}
