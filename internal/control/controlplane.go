package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hookbridge/internal/engine/tunnel"
	"hookbridge/internal/platform/models"
	"hookbridge/internal/platform/secrets"
	"hookbridge/internal/platform/store"
)

var (
	ErrUnknownTool = errors.New("control: unknown tool")
	ErrBadArgs     = errors.New("control: invalid arguments")
)

// ToolFunc is the uniform handler shape every tool implements.
type ToolFunc func(args json.RawMessage) (any, error)

// Plane dispatches control-plane tool calls and forwards store and
// tunnel changes to the notification streams.
type Plane struct {
	store      *store.Store
	supervisor *tunnel.Supervisor
	secrets    *secrets.Store
	notifier   *Notifier
	localBase  string

	tools map[string]ToolFunc
}

func New(st *store.Store, sup *tunnel.Supervisor, sec *secrets.Store, notifier *Notifier, localBase string) *Plane {
	p := &Plane{
		store:      st,
		supervisor: sup,
		secrets:    sec,
		notifier:   notifier,
		localBase:  localBase,
	}

	p.tools = map[string]ToolFunc{
		"create_subscription":    p.createSubscription,
		"list_subscriptions":     p.listSubscriptions,
		"update_subscription":    p.updateSubscription,
		"delete_subscription":    p.deleteSubscription,
		"get_event_payload":      p.getEventPayload,
		"get_public_webhook_url": p.getPublicWebhookURL,
		"start_tunnel":           p.startTunnel,
		"stop_tunnel":            p.stopTunnel,
		"start_quick_tunnel":     p.startQuickTunnel,
		"get_tunnel_status":      p.getTunnelStatus,
	}

	sup.SetTransitionCallback(func(state tunnel.State, publicURL string) {
		payload := map[string]any{"status": string(state)}
		if publicURL != "" {
			payload["public_url"] = publicURL
		}
		notifier.Broadcast("tunnel_status", payload)
	})

	return p
}

func (p *Plane) Notifier() *Notifier {
	return p.notifier
}

// CallTool dispatches one tools/call request by name.
func (p *Plane) CallTool(name string, args json.RawMessage) (any, error) {
	tool, ok := p.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool(args)
}

// RunNotificationPump forwards store change signals to the notification
// streams until ctx is done.
func (p *Plane) RunNotificationPump(ctx context.Context) {
	changes, cancel := p.store.SubscribeChanges()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			p.notifier.Broadcast("subscriptions_changed", map[string]any{"changed": true})
		}
	}
}

// baseURL prefers the tunnel's public URL, falling back to the local
// listen address when no tunnel is up yet.
func (p *Plane) baseURL() string {
	if url := p.supervisor.PublicURL(); url != "" {
		return url
	}
	return p.localBase
}

func (p *Plane) createSubscription(args json.RawMessage) (any, error) {
	var req struct {
		SessionID     string `json:"session_id"`
		Service       string `json:"service"`
		Name          string `json:"name"`
		HMACSecret    string `json:"hmac_secret"`
		HMACHeader    string `json:"hmac_header"`
		Prompt        string `json:"prompt"`
		JQFilter      string `json:"jq_filter"`
		SummaryFilter string `json:"summary_filter"`
		OneShot       bool   `json:"one_shot"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrBadArgs)
	}

	id := "sub_" + uuid.New().String()
	sub := &models.Subscription{
		ID:              id,
		SessionID:       req.SessionID,
		WebhookURL:      p.baseURL() + "/webhook/" + id,
		Secret:          req.HMACSecret,
		SignatureHeader: req.HMACHeader,
		DisplayName:     req.Name,
		ServiceTag:      req.Service,
		Prompt:          req.Prompt,
		GateExpr:        req.JQFilter,
		SummaryExpr:     req.SummaryFilter,
		OneShot:         req.OneShot,
	}

	if err := p.store.CreateSubscription(sub); err != nil {
		return nil, err
	}

	if req.HMACSecret != "" && p.secrets != nil {
		if err := p.secrets.Put(sub.ID, req.HMACSecret); err != nil {
			log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("secret backup failed")
		}
	}

	return map[string]any{"id": sub.ID, "webhook_url": sub.WebhookURL}, nil
}

func (p *Plane) listSubscriptions(args json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
	}

	var (
		subs []*models.Subscription
		err  error
	)
	if req.SessionID != "" {
		subs, err = p.store.ListSubscriptionsBySession(req.SessionID)
	} else {
		subs, err = p.store.ListSubscriptions()
	}
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	return subs, nil
}

func (p *Plane) updateSubscription(args json.RawMessage) (any, error) {
	var req struct {
		ID            string  `json:"id"`
		SessionID     *string `json:"session_id"`
		Service       *string `json:"service"`
		Name          *string `json:"name"`
		HMACSecret    *string `json:"hmac_secret"`
		HMACHeader    *string `json:"hmac_header"`
		Prompt        *string `json:"prompt"`
		JQFilter      *string `json:"jq_filter"`
		SummaryFilter *string `json:"summary_filter"`
		OneShot       *bool   `json:"one_shot"`
		Status        *string `json:"status"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrBadArgs)
	}

	sub, err := p.store.GetSubscription(req.ID)
	if err != nil {
		return nil, err
	}

	if req.SessionID != nil {
		sub.SessionID = *req.SessionID
	}
	if req.Service != nil {
		sub.ServiceTag = *req.Service
	}
	if req.Name != nil {
		sub.DisplayName = *req.Name
	}
	if req.HMACSecret != nil {
		sub.Secret = *req.HMACSecret
	}
	if req.HMACHeader != nil {
		sub.SignatureHeader = *req.HMACHeader
	}
	if req.Prompt != nil {
		sub.Prompt = *req.Prompt
	}
	if req.JQFilter != nil {
		sub.GateExpr = *req.JQFilter
	}
	if req.SummaryFilter != nil {
		sub.SummaryExpr = *req.SummaryFilter
	}
	if req.OneShot != nil {
		sub.OneShot = *req.OneShot
	}
	if req.Status != nil {
		if *req.Status != models.SubscriptionStatusActive && *req.Status != models.SubscriptionStatusPaused {
			return nil, fmt.Errorf("%w: status must be active or paused", ErrBadArgs)
		}
		sub.Status = *req.Status
	}

	if err := p.store.UpdateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (p *Plane) deleteSubscription(args json.RawMessage) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrBadArgs)
	}

	if err := p.store.DeleteSubscription(req.ID); err != nil {
		return nil, err
	}
	if p.secrets != nil {
		p.secrets.Delete(req.ID)
	}
	return map[string]any{"deleted": true}, nil
}

func (p *Plane) getEventPayload(args json.RawMessage) (any, error) {
	var req struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if req.EventID == "" {
		return nil, fmt.Errorf("%w: event_id is required", ErrBadArgs)
	}

	event, err := p.store.GetEvent(req.EventID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event_id": event.ID, "payload": event.Payload}, nil
}

func (p *Plane) getPublicWebhookURL(args json.RawMessage) (any, error) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if req.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription_id is required", ErrBadArgs)
	}

	if _, err := p.store.GetSubscription(req.SubscriptionID); err != nil {
		return nil, err
	}
	return map[string]any{"url": p.baseURL() + "/webhook/" + req.SubscriptionID}, nil
}

func (p *Plane) startTunnel(json.RawMessage) (any, error) {
	if err := p.supervisor.Start(); err != nil {
		return nil, err
	}
	return p.tunnelStatus(), nil
}

func (p *Plane) stopTunnel(json.RawMessage) (any, error) {
	if err := p.supervisor.Stop(); err != nil {
		return nil, err
	}
	return p.tunnelStatus(), nil
}

func (p *Plane) startQuickTunnel(json.RawMessage) (any, error) {
	if err := p.supervisor.StartQuick(); err != nil {
		return nil, err
	}
	return p.tunnelStatus(), nil
}

func (p *Plane) getTunnelStatus(json.RawMessage) (any, error) {
	return p.tunnelStatus(), nil
}

func (p *Plane) tunnelStatus() map[string]any {
	state, url := p.supervisor.Status()
	status := map[string]any{"status": string(state)}
	if url != "" {
		status["public_url"] = url
	}
	return status
}
