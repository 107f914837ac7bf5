package models

const (
	SubscriptionStatusActive = "active"
	SubscriptionStatusPaused = "paused"

	VerificationAccepted = "accepted"
	VerificationRejected = "rejected"

	DefaultSignatureHeader = "X-Hub-Signature-256"
)

type Subscription struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	WebhookURL      string `json:"webhook_url"`
	Secret          string `json:"secret,omitempty"`
	SignatureHeader string `json:"signature_header,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	ServiceTag      string `json:"service_tag,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	GateExpr        string `json:"gate_expr,omitempty"`
	SummaryExpr     string `json:"summary_expr,omitempty"`
	OneShot         bool   `json:"one_shot"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"created_at"`
	EventCount      int64  `json:"event_count"`
}

// SignatureHeaderOrDefault returns the configured signature header name,
// falling back to the GitHub-style default.
func (s *Subscription) SignatureHeaderOrDefault() string {
	if s.SignatureHeader != "" {
		return s.SignatureHeader
	}
	return DefaultSignatureHeader
}

type Event struct {
	ID                 string `json:"id"`
	SubscriptionID     string `json:"subscription_id"`
	ReceivedAt         int64  `json:"received_at"`
	Payload            string `json:"payload"`
	VerificationResult string `json:"verification_result"`
	Injected           bool   `json:"injected"`
}

type QueuedEvent struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	SessionID      string `json:"session_id"`
	FramedPayload  string `json:"framed_payload"`
	EnqueuedAt     int64  `json:"enqueued_at"`
}
