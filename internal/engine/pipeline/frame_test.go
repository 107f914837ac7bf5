package pipeline

import (
	"strings"
	"testing"

	"hookbridge/internal/platform/models"
)

func TestFrameShape(t *testing.T) {
	sub := &models.Subscription{
		ID:         "sub_1",
		ServiceTag: "github",
		Prompt:     "Review this push.",
	}

	framed := frame(sub, "evt_1", `{"branch":"main"}`)

	want := `<webhook-event service="github" event-id="evt_1">
Review this push.
<payload>
{"branch":"main"}
</payload>
To see the full untruncated payload, use the get_event_payload tool with event_id "evt_1".
If this event is too noisy, or the summary needs tuning, use update_subscription to adjust the summary_filter (jq expression) or jq_filter (to suppress unwanted events entirely) for subscription "sub_1".
</webhook-event>`

	if framed != want {
		t.Errorf("Frame mismatch.\nGot:\n%s\nWant:\n%s", framed, want)
	}
}

func TestFrameDefaults(t *testing.T) {
	sub := &models.Subscription{ID: "sub_2"}

	framed := frame(sub, "evt_2", "{}")

	if !strings.Contains(framed, `service="webhook"`) {
		t.Error("Expected default service tag")
	}
	if !strings.Contains(framed, "A webhook event was received. Review and take appropriate action.") {
		t.Error("Expected default prompt")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd" {
		t.Errorf("Expected abcd, got %s", got)
	}
	if got := truncate("ab", 4); got != "ab" {
		t.Errorf("Expected ab unchanged, got %s", got)
	}
}
