package automation

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"wapipe/internal/models"
	"wapipe/internal/store"
)

// KeywordEvaluator runs the legacy keyword-based automation rules. It
// predates the workflow engine and stays active during the migration.
type KeywordEvaluator struct {
	rules  *store.AutomationStore
	sender Sender
}

func NewKeywordEvaluator(rules *store.AutomationStore, sender Sender) *KeywordEvaluator {
	return &KeywordEvaluator{rules: rules, sender: sender}
}

// Evaluate matches the message body against the tenant's active rules. The
// first matching rule sends its reply and claims the message.
func (e *KeywordEvaluator) Evaluate(ctx context.Context, tenantID, from, body string) (bool, error) {
	if body == "" {
		return false, nil
	}

	rules, err := e.rules.ActiveRules(ctx, tenantID)
	if err != nil {
		return false, err
	}

	lowered := strings.ToLower(body)
	for _, rule := range rules {
		if !matches(rule, lowered) {
			continue
		}

		log.Info().
			Str("tenantID", tenantID).
			Str("ruleID", rule.ID).
			Str("keyword", rule.Keyword).
			Msg("Keyword rule matched")

		if err := e.sender.SendText(ctx, tenantID, from, rule.ReplyText); err != nil {
			log.Error().Err(err).Str("ruleID", rule.ID).Msg("Keyword reply failed")
			// The rule still claims the message: a send failure must not
			// cascade into an AI reply for the same inbound.
		}
		return true, nil
	}
	return false, nil
}

func matches(rule models.AutomationRule, loweredBody string) bool {
	keyword := strings.ToLower(rule.Keyword)
	if keyword == "" {
		return false
	}
	switch rule.MatchType {
	case models.MatchExact:
		return loweredBody == keyword
	default:
		return strings.Contains(loweredBody, keyword)
	}
}
