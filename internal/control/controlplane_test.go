package control

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hookbridge/internal/engine/tunnel"
	"hookbridge/internal/platform/config"
	"hookbridge/internal/platform/database"
	"hookbridge/internal/platform/models"
	"hookbridge/internal/platform/store"
)

func setupPlane(t *testing.T) (*Plane, *store.Store) {
	t.Helper()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	sup := tunnel.NewSupervisor(config.TunnelConfig{BinDir: t.TempDir()}, "http://127.0.0.1:7842")
	p := New(st, sup, nil, NewNotifier(), "http://127.0.0.1:7842")
	return p, st
}

func call(t *testing.T, p *Plane, tool, args string) any {
	t.Helper()
	result, err := p.CallTool(tool, json.RawMessage(args))
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", tool, err)
	}
	return result
}

func TestCallToolUnknown(t *testing.T) {
	p, _ := setupPlane(t)

	_, err := p.CallTool("explode", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Expected ErrUnknownTool, got %v", err)
	}
}

func TestCreateSubscriptionTool(t *testing.T) {
	p, st := setupPlane(t)

	result := call(t, p, "create_subscription", `{
		"session_id": "sess1",
		"service": "github",
		"name": "CI hooks",
		"hmac_secret": "abc",
		"jq_filter": "select(.action)",
		"summary_filter": "{a: .a}",
		"one_shot": true
	}`)

	out := result.(map[string]any)
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatal("Expected an id in the result")
	}
	url, _ := out["webhook_url"].(string)
	if url != "http://127.0.0.1:7842/webhook/"+id {
		t.Errorf("Unexpected webhook_url %q", url)
	}

	sub, err := st.GetSubscription(id)
	if err != nil {
		t.Fatalf("Subscription not persisted: %v", err)
	}
	if sub.ServiceTag != "github" || sub.Secret != "abc" || !sub.OneShot {
		t.Errorf("Fields not mapped: %+v", sub)
	}
	if sub.GateExpr != "select(.action)" || sub.SummaryExpr != "{a: .a}" {
		t.Errorf("Filter fields not mapped: %+v", sub)
	}
}

func TestCreateSubscriptionRequiresSession(t *testing.T) {
	p, _ := setupPlane(t)

	if _, err := p.CallTool("create_subscription", json.RawMessage(`{}`)); !errors.Is(err, ErrBadArgs) {
		t.Errorf("Expected ErrBadArgs, got %v", err)
	}
}

func TestListSubscriptionsTool(t *testing.T) {
	p, _ := setupPlane(t)

	call(t, p, "create_subscription", `{"session_id": "a"}`)
	call(t, p, "create_subscription", `{"session_id": "a"}`)
	call(t, p, "create_subscription", `{"session_id": "b"}`)

	all := call(t, p, "list_subscriptions", `{}`).([]*models.Subscription)
	if len(all) != 3 {
		t.Errorf("Expected 3 subscriptions, got %d", len(all))
	}

	scoped := call(t, p, "list_subscriptions", `{"session_id": "a"}`).([]*models.Subscription)
	if len(scoped) != 2 {
		t.Errorf("Expected 2 subscriptions for session a, got %d", len(scoped))
	}
}

func TestUpdateSubscriptionPartial(t *testing.T) {
	p, st := setupPlane(t)

	created := call(t, p, "create_subscription", `{"session_id": "a", "service": "github", "prompt": "original"}`).(map[string]any)
	id := created["id"].(string)

	call(t, p, "update_subscription", `{"id": "`+id+`", "summary_filter": ".commits", "status": "paused"}`)

	sub, _ := st.GetSubscription(id)
	if sub.SummaryExpr != ".commits" {
		t.Errorf("summary_filter not applied: %+v", sub)
	}
	if sub.Status != models.SubscriptionStatusPaused {
		t.Errorf("status not applied: %+v", sub)
	}
	if sub.ServiceTag != "github" || sub.Prompt != "original" {
		t.Errorf("Unset fields must be preserved: %+v", sub)
	}
}

func TestUpdateSubscriptionBadStatus(t *testing.T) {
	p, _ := setupPlane(t)

	created := call(t, p, "create_subscription", `{"session_id": "a"}`).(map[string]any)
	id := created["id"].(string)

	_, err := p.CallTool("update_subscription", json.RawMessage(`{"id": "`+id+`", "status": "archived"}`))
	if !errors.Is(err, ErrBadArgs) {
		t.Errorf("Expected ErrBadArgs, got %v", err)
	}
}

func TestDeleteSubscriptionTool(t *testing.T) {
	p, st := setupPlane(t)

	created := call(t, p, "create_subscription", `{"session_id": "a"}`).(map[string]any)
	id := created["id"].(string)

	call(t, p, "delete_subscription", `{"id": "`+id+`"}`)
	if _, err := st.GetSubscription(id); err != store.ErrNotFound {
		t.Errorf("Expected subscription gone, got %v", err)
	}

	// Idempotent.
	call(t, p, "delete_subscription", `{"id": "`+id+`"}`)
}

func TestGetEventPayloadTool(t *testing.T) {
	p, st := setupPlane(t)

	created := call(t, p, "create_subscription", `{"session_id": "a"}`).(map[string]any)
	id := created["id"].(string)
	event, _ := st.LogEvent(id, `{"ref":"refs/heads/main"}`, models.VerificationAccepted, false)

	result := call(t, p, "get_event_payload", `{"event_id": "`+event.ID+`"}`).(map[string]any)
	if result["payload"] != `{"ref":"refs/heads/main"}` {
		t.Errorf("Unexpected payload: %v", result["payload"])
	}
}

func TestGetPublicWebhookURLTool(t *testing.T) {
	p, _ := setupPlane(t)

	created := call(t, p, "create_subscription", `{"session_id": "a"}`).(map[string]any)
	id := created["id"].(string)

	result := call(t, p, "get_public_webhook_url", `{"subscription_id": "`+id+`"}`).(map[string]any)
	if result["url"] != "http://127.0.0.1:7842/webhook/"+id {
		t.Errorf("Unexpected url: %v", result["url"])
	}
}

func TestGetTunnelStatusTool(t *testing.T) {
	p, _ := setupPlane(t)

	result := call(t, p, "get_tunnel_status", `{}`).(map[string]any)
	if result["status"] != "inactive" {
		t.Errorf("Expected inactive tunnel, got %v", result["status"])
	}
	if _, ok := result["public_url"]; ok {
		t.Error("public_url must be omitted when unknown")
	}
}

type captureStream struct {
	mu     sync.Mutex
	frames []string
	fail   bool
}

func (c *captureStream) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errors.New("closed")
	}
	c.frames = append(c.frames, string(p))
	return len(p), nil
}

func (c *captureStream) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestNotifierBroadcastAndDrop(t *testing.T) {
	n := NewNotifier()

	healthy := &captureStream{}
	dead := &captureStream{fail: true}
	n.Register(healthy)
	n.Register(dead)

	n.Broadcast("tunnel_status", map[string]any{"status": "active"})

	frames := healthy.all()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if !strings.HasPrefix(frames[0], "event: tunnel_status\ndata: ") || !strings.HasSuffix(frames[0], "\n\n") {
		t.Errorf("Malformed SSE frame: %q", frames[0])
	}

	if n.StreamCount() != 1 {
		t.Errorf("Dead stream not dropped, %d streams remain", n.StreamCount())
	}
}

func TestNotificationPumpForwardsStoreChanges(t *testing.T) {
	p, st := setupPlane(t)

	stream := &captureStream{}
	p.Notifier().Register(stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.RunNotificationPump(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := st.CreateSubscription(&models.Subscription{SessionID: "a", WebhookURL: "u"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range stream.all() {
			if strings.Contains(f, "subscriptions_changed") {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Change notification never reached the stream")
}
