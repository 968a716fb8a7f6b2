package ai

import (
	"time"

	"wapipe/internal/models"
)

// Gate reasons, logged verbatim. These strings are the first thing support
// looks at when a bot did not reply, so they must stay distinguishable.
const (
	ReasonModeAI            = "mode=ai"
	ReasonPauseExpired      = "pause-expired"
	ReasonAutomationHandled = "automation-handled"
	ReasonNonText           = "non-text-message"
	ReasonModeHuman         = "mode=human"
	ReasonPausedNotExpired  = "mode=paused,not-expired"
)

// Decision is the gate's verdict for one inbound message.
type Decision struct {
	// Invoke is true when the AI service should generate a reply.
	Invoke bool
	// ResumeAI is true when the conversation's pause has expired and the
	// mode must be flipped back to ai before replying. The flip and the
	// reply belong to the same message: callers persist the transition
	// first, then invoke.
	ResumeAI bool
	Reason   string
}

// Decide runs the aiMode state machine for one inbound message.
//
// paused -> ai happens lazily here: the first message after the pause expiry
// both resumes AI and gets an AI reply. human mode never transitions
// automatically.
func Decide(conv *models.Conversation, isText, automationHandled bool, now time.Time) Decision {
	if automationHandled {
		return Decision{Reason: ReasonAutomationHandled}
	}
	if !isText {
		return Decision{Reason: ReasonNonText}
	}

	mode := conv.AIMode
	if mode == "" {
		mode = models.AIModeAI
	}

	switch mode {
	case models.AIModeAI:
		return Decision{Invoke: true, Reason: ReasonModeAI}
	case models.AIModeHuman:
		return Decision{Reason: ReasonModeHuman}
	case models.AIModePaused:
		if conv.PauseExpired(now) {
			return Decision{Invoke: true, ResumeAI: true, Reason: ReasonPauseExpired}
		}
		return Decision{Reason: ReasonPausedNotExpired}
	default:
		// Unknown mode values are treated as human-controlled: never reply
		// on a conversation whose state we do not understand.
		return Decision{Reason: ReasonModeHuman}
	}
}
