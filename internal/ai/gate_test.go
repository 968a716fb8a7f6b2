package ai

import (
	"testing"
	"time"

	"wapipe/internal/models"
)

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	cases := []struct {
		name              string
		mode              models.AIMode
		pausedUntil       *time.Time
		isText            bool
		automationHandled bool
		wantInvoke        bool
		wantResume        bool
		wantReason        string
	}{
		{
			name: "ai mode text", mode: models.AIModeAI, isText: true,
			wantInvoke: true, wantReason: ReasonModeAI,
		},
		{
			name: "automation already handled", mode: models.AIModeAI, isText: true, automationHandled: true,
			wantReason: ReasonAutomationHandled,
		},
		{
			name: "non-text message", mode: models.AIModeAI, isText: false,
			wantReason: ReasonNonText,
		},
		{
			name: "human mode", mode: models.AIModeHuman, isText: true,
			wantReason: ReasonModeHuman,
		},
		{
			name: "paused not expired", mode: models.AIModePaused, pausedUntil: &future, isText: true,
			wantReason: ReasonPausedNotExpired,
		},
		{
			name: "paused expired resumes and replies", mode: models.AIModePaused, pausedUntil: &past, isText: true,
			wantInvoke: true, wantResume: true, wantReason: ReasonPauseExpired,
		},
		{
			name: "paused without expiry resumes", mode: models.AIModePaused, isText: true,
			wantInvoke: true, wantResume: true, wantReason: ReasonPauseExpired,
		},
		{
			name: "paused expired but non-text", mode: models.AIModePaused, pausedUntil: &past, isText: false,
			wantReason: ReasonNonText,
		},
		{
			name: "empty mode defaults to ai", mode: "", isText: true,
			wantInvoke: true, wantReason: ReasonModeAI,
		},
		{
			name: "unknown mode treated as human", mode: "weird", isText: true,
			wantReason: ReasonModeHuman,
		},
		{
			name: "human mode beats automation flag", mode: models.AIModeHuman, isText: true, automationHandled: true,
			wantReason: ReasonAutomationHandled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := &models.Conversation{AIMode: tc.mode, AIPausedUntil: tc.pausedUntil}
			got := Decide(conv, tc.isText, tc.automationHandled, now)

			if got.Invoke != tc.wantInvoke {
				t.Errorf("Invoke = %v, want %v", got.Invoke, tc.wantInvoke)
			}
			if got.ResumeAI != tc.wantResume {
				t.Errorf("ResumeAI = %v, want %v", got.ResumeAI, tc.wantResume)
			}
			if got.Reason != tc.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}
