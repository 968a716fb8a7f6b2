package automation

import "context"

// Sender delivers automated replies on behalf of a tenant. Implemented by
// the Graph API client; tests substitute a recorder.
type Sender interface {
	SendText(ctx context.Context, tenantID, to, body string) error
	SendTemplate(ctx context.Context, tenantID, to, name, language string) error
}
