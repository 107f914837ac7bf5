package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hookbridge/internal/platform/models"
)

var ErrNotFound = errors.New("store: not found")

// Store owns all persistent state. Readers go straight to the database;
// writers are serialized behind writeMu. Subscription mutations emit a
// coalesced change signal after commit.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]chan struct{}
	nextSubID   int
}

func New(db *sql.DB) (*Store, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Store{
		db:          db,
		subscribers: make(map[int]chan struct{}),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SubscribeChanges returns a channel that receives a signal after any
// subscription mutation commits, and a function to unsubscribe. Signals
// are coarse and coalescable; one signal may cover several mutations.
func (s *Store) SubscribeChanges() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notifyChanged() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

const subscriptionColumns = `id, session_id, webhook_url, secret, signature_header, display_name,
	service_tag, prompt, gate_expr, summary_expr, one_shot, status, created_at, event_count`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(&sub.ID, &sub.SessionID, &sub.WebhookURL, &sub.Secret, &sub.SignatureHeader,
		&sub.DisplayName, &sub.ServiceTag, &sub.Prompt, &sub.GateExpr, &sub.SummaryExpr,
		&sub.OneShot, &sub.Status, &sub.CreatedAt, &sub.EventCount)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription assigns an id when absent, forces status to active
// and event_count to zero, then inserts.
func (s *Store) CreateSubscription(sub *models.Subscription) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if sub.ID == "" {
		sub.ID = "sub_" + uuid.New().String()
	}
	sub.Status = models.SubscriptionStatusActive
	sub.EventCount = 0
	sub.CreatedAt = time.Now().Unix()

	_, err := s.db.Exec(`
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.SessionID, sub.WebhookURL, sub.Secret, sub.SignatureHeader,
		sub.DisplayName, sub.ServiceTag, sub.Prompt, sub.GateExpr, sub.SummaryExpr,
		sub.OneShot, sub.Status, sub.CreatedAt, sub.EventCount)
	if err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

func (s *Store) GetSubscription(id string) (*models.Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

func (s *Store) ListSubscriptions() ([]*models.Subscription, error) {
	return s.querySubscriptions(`SELECT ` + subscriptionColumns + ` FROM subscriptions ORDER BY created_at`)
}

func (s *Store) ListSubscriptionsBySession(sessionID string) ([]*models.Subscription, error) {
	return s.querySubscriptions(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE session_id = ? ORDER BY created_at`, sessionID)
}

func (s *Store) querySubscriptions(query string, args ...any) ([]*models.Subscription, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubscription replaces every field of the record by id except
// created_at and event_count, which keep their stored values.
func (s *Store) UpdateSubscription(sub *models.Subscription) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`
		UPDATE subscriptions
		SET session_id = ?, webhook_url = ?, secret = ?, signature_header = ?,
			display_name = ?, service_tag = ?, prompt = ?, gate_expr = ?,
			summary_expr = ?, one_shot = ?, status = ?
		WHERE id = ?`,
		sub.SessionID, sub.WebhookURL, sub.Secret, sub.SignatureHeader,
		sub.DisplayName, sub.ServiceTag, sub.Prompt, sub.GateExpr,
		sub.SummaryExpr, sub.OneShot, sub.Status, sub.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	s.notifyChanged()
	return nil
}

// DeleteSubscription is idempotent. Events and queued events cascade.
func (s *Store) DeleteSubscription(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

func (s *Store) SetStatus(id, status string) error {
	if status != models.SubscriptionStatusActive && status != models.SubscriptionStatusPaused {
		return fmt.Errorf("store: invalid status %q", status)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`UPDATE subscriptions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	s.notifyChanged()
	return nil
}

func (s *Store) IncrementEventCount(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.Exec(`UPDATE subscriptions SET event_count = event_count + 1 WHERE id = ?`, id); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

// Stats reports row counts per table; the broker logs them at startup.
func (s *Store) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"subscriptions", "events", "queued_events"} {
		var n int64
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, err
		}
		stats[table] = n
	}
	return stats, nil
}

// RunRetentionSweep prunes events past the retention horizon once a day
// until done is closed. The event table is a bounded log, not an archive.
func (s *Store) RunRetentionSweep(done <-chan struct{}, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
			pruned, err := s.PruneEventsOlderThan(cutoff)
			if err != nil {
				log.Error().Err(err).Msg("event retention sweep failed")
				continue
			}
			if pruned > 0 {
				log.Info().Int64("pruned", pruned).Msg("retention sweep removed old events")
			}
		}
	}
}
