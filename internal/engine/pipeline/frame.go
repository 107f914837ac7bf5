package pipeline

import (
	"fmt"

	"hookbridge/internal/platform/models"
)

// frame builds the prompt text a session receives for one event. The
// shape is load-bearing: sessions parse the service and event-id
// attributes and the payload block.
func frame(sub *models.Subscription, eventID, summary string) string {
	service := sub.ServiceTag
	if service == "" {
		service = "webhook"
	}

	prompt := sub.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("A %s event was received. Review and take appropriate action.", service)
	}

	return fmt.Sprintf(`<webhook-event service=%q event-id=%q>
%s
<payload>
%s
</payload>
To see the full untruncated payload, use the get_event_payload tool with event_id %q.
If this event is too noisy, or the summary needs tuning, use update_subscription to adjust the summary_filter (jq expression) or jq_filter (to suppress unwanted events entirely) for subscription %q.
</webhook-event>`, service, eventID, prompt, summary, eventID, sub.ID)
}

// truncate cuts s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
