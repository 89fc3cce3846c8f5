// Package events publishes account lifecycle events for downstream consumers.
// Publishing is best-effort: failures are logged and never returned to callers.
package events

import (
	"context"
	"time"
)

const (
	TypeAccountRegistered    = "account.registered"
	TypeAccountVerified      = "account.verified"
	TypeAccountActivated     = "account.activated"
	TypeReferralCredited     = "referral.credited"
	TypeReferralCreditFailed = "referral.credit_failed"
)

// Event is a single lifecycle event. Payloads never carry OTPs or password material.
type Event struct {
	Type       string            `json:"type"`
	AccountID  string            `json:"account_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

func (NopPublisher) Close() error { return nil }
