package models

import (
	"context"
)

type triggerContextKey struct{}

// Trigger sources recorded on conversion attempts
const (
	TriggerWebhook = "webhook"
	TriggerManual  = "manual"
	TriggerRetry   = "retry"
	TriggerSweeper = "sweeper"
)

// TriggerContext carries who asked for a conversion through context
// so logs and events can attribute the attempt without widening every signature.
type TriggerContext struct {
	Source    string // webhook, manual, retry, sweeper
	RequestId string // inbound request id, if any
}

// WithTriggerContext attaches trigger data to a context.
func WithTriggerContext(ctx context.Context, tc *TriggerContext) context.Context {
	return context.WithValue(ctx, triggerContextKey{}, tc)
}

// GetTriggerContext retrieves trigger data from context, or nil if absent.
func GetTriggerContext(ctx context.Context) *TriggerContext {
	tc, _ := ctx.Value(triggerContextKey{}).(*TriggerContext)
	return tc
}

// TriggerSource returns the trigger source attached to ctx, defaulting to manual.
func TriggerSource(ctx context.Context) string {
	if tc := GetTriggerContext(ctx); tc != nil && tc.Source != "" {
		return tc.Source
	}
	return TriggerManual
}
