package pipeline

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"hookbridge/internal/engine/filter"
	"hookbridge/internal/engine/sessions"
	"hookbridge/internal/platform/models"
	"hookbridge/internal/platform/store"
)

type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	NotFound
)

const (
	ReasonPaused           = "paused"
	ReasonMissingSignature = "missing_signature"
	ReasonInvalidSignature = "invalid_signature"
)

type Result struct {
	Outcome Outcome
	Reason  string
	EventID string
}

type Config struct {
	SummaryMaxBytes  int
	FallbackMaxBytes int
}

// Pipeline applies the full ingest flow to one webhook request:
// lookup, signature verification, gate filter, persistence, summary,
// framing and delivery, with the fallback queue on delivery failure.
type Pipeline struct {
	store    *store.Store
	injector *sessions.Injector
	filters  filter.Evaluator
	cfg      Config
}

func New(st *store.Store, injector *sessions.Injector, filters filter.Evaluator, cfg Config) *Pipeline {
	if cfg.SummaryMaxBytes <= 0 {
		cfg.SummaryMaxBytes = 2000
	}
	if cfg.FallbackMaxBytes <= 0 {
		cfg.FallbackMaxBytes = 500
	}
	return &Pipeline{store: st, injector: injector, filters: filters, cfg: cfg}
}

// Process runs one webhook request through the stage machine. A non-nil
// error means the store failed; everything else is reflected in Result.
func (p *Pipeline) Process(ctx context.Context, subscriptionID string, headers http.Header, body []byte) (Result, error) {
	sub, err := p.store.GetSubscription(subscriptionID)
	if err == store.ErrNotFound {
		return Result{Outcome: NotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if sub.Status == models.SubscriptionStatusPaused {
		return Result{Outcome: Rejected, Reason: ReasonPaused}, nil
	}

	if sub.Secret != "" {
		header := headers.Get(sub.SignatureHeaderOrDefault())
		if header == "" {
			if _, err := p.store.LogEvent(sub.ID, string(body), models.VerificationRejected, false); err != nil {
				return Result{}, err
			}
			return Result{Outcome: Rejected, Reason: ReasonMissingSignature}, nil
		}
		if !VerifySignature(sub.Secret, body, header) {
			if _, err := p.store.LogEvent(sub.ID, string(body), models.VerificationRejected, false); err != nil {
				return Result{}, err
			}
			return Result{Outcome: Rejected, Reason: ReasonInvalidSignature}, nil
		}
	}

	if sub.GateExpr != "" {
		if _, dropped := p.filters.Evaluate(ctx, sub.GateExpr, body); dropped {
			log.Debug().Str("subscription_id", sub.ID).Msg("event gated out")
			return Result{Outcome: Accepted}, nil
		}
	}

	event, err := p.store.LogEvent(sub.ID, string(body), models.VerificationAccepted, false)
	if err != nil {
		return Result{}, err
	}

	summary := p.summarize(ctx, sub, body)
	framed := frame(sub, event.ID, summary)

	ok, err := p.injector.Inject(sub.SessionID, []byte(framed))
	if err != nil {
		log.Warn().Err(err).Str("session_id", sub.SessionID).Msg("injection failed, queueing")
	}
	if !ok {
		if _, err := p.store.Enqueue(sub.ID, sub.SessionID, framed); err != nil {
			return Result{}, err
		}
		return Result{Outcome: Accepted, EventID: event.ID}, nil
	}

	if err := p.store.MarkEventInjected(event.ID); err != nil {
		return Result{}, err
	}
	if err := p.store.IncrementEventCount(sub.ID); err != nil {
		return Result{}, err
	}
	p.finishOneShot(sub)

	return Result{Outcome: Accepted, EventID: event.ID}, nil
}

func (p *Pipeline) summarize(ctx context.Context, sub *models.Subscription, body []byte) string {
	if sub.SummaryExpr == "" {
		return truncate(string(body), p.cfg.SummaryMaxBytes)
	}
	produced, dropped := p.filters.Evaluate(ctx, sub.SummaryExpr, body)
	if dropped {
		return truncate(string(body), p.cfg.FallbackMaxBytes)
	}
	return string(produced)
}

// finishOneShot removes a one-shot subscription after its first
// successful delivery.
func (p *Pipeline) finishOneShot(sub *models.Subscription) {
	if !sub.OneShot {
		return
	}
	if err := p.store.DeleteSubscription(sub.ID); err != nil {
		log.Error().Err(err).Str("subscription_id", sub.ID).Msg("one-shot cleanup failed")
		return
	}
	log.Info().Str("subscription_id", sub.ID).Msg("one-shot subscription retired")
}

// RunDrainLoop consumes session watcher events and drains the fallback
// queue for every session that appears. Runs until ctx is done or the
// event channel closes.
func (p *Pipeline) RunDrainLoop(ctx context.Context, events <-chan sessions.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Appeared {
				p.DrainSession(ev.SessionID)
			}
		}
	}
}

// DrainSession redelivers queued events for one session in enqueue
// order. Single-shot sends: a failure stops the drain, the next
// appearance retries the remainder.
func (p *Pipeline) DrainSession(sessionID string) {
	queued, err := p.store.ListQueuedForSession(sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("queue read failed")
		return
	}

	for _, q := range queued {
		ok, err := p.injector.Inject(sessionID, []byte(q.FramedPayload))
		if err != nil || !ok {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("drain stopped, session not accepting")
			return
		}

		if err := p.store.CompleteQueuedDelivery(q); err != nil {
			log.Error().Err(err).Str("queued_id", q.ID).Msg("drain completion failed")
			return
		}
		log.Info().Str("session_id", sessionID).Str("subscription_id", q.SubscriptionID).Msg("queued event drained")

		if sub, err := p.store.GetSubscription(q.SubscriptionID); err == nil {
			p.finishOneShot(sub)
		}
	}
}
