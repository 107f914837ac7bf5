package store

import (
	"time"

	"github.com/google/uuid"

	"hookbridge/internal/platform/models"
)

// Enqueue buffers an already-framed payload for redelivery. The session id
// is captured here so later subscription edits do not redirect in-flight
// queued deliveries.
func (s *Store) Enqueue(subscriptionID, sessionID, framedPayload string) (*models.QueuedEvent, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	q := &models.QueuedEvent{
		ID:             "q_" + uuid.New().String(),
		SubscriptionID: subscriptionID,
		SessionID:      sessionID,
		FramedPayload:  framedPayload,
		EnqueuedAt:     time.Now().Unix(),
	}

	_, err := s.db.Exec(`
		INSERT INTO queued_events (id, subscription_id, session_id, framed_payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.SubscriptionID, q.SessionID, q.FramedPayload, q.EnqueuedAt)
	if err != nil {
		return nil, err
	}

	return q, nil
}

// ListQueuedForSession returns queued entries oldest first.
func (s *Store) ListQueuedForSession(sessionID string) ([]*models.QueuedEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, subscription_id, session_id, framed_payload, enqueued_at
		FROM queued_events WHERE session_id = ? ORDER BY enqueued_at, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queued []*models.QueuedEvent
	for rows.Next() {
		var q models.QueuedEvent
		if err := rows.Scan(&q.ID, &q.SubscriptionID, &q.SessionID, &q.FramedPayload, &q.EnqueuedAt); err != nil {
			return nil, err
		}
		queued = append(queued, &q)
	}
	return queued, rows.Err()
}

func (s *Store) Dequeue(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`DELETE FROM queued_events WHERE id = ?`, id)
	return err
}

// CompleteQueuedDelivery finalizes a drained queue entry in one
// transaction: the queue row is removed, the owning subscription's
// event_count is bumped, and the oldest uninjected accepted event for
// that subscription is marked injected.
func (s *Store) CompleteQueuedDelivery(q *models.QueuedEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM queued_events WHERE id = ?`, q.ID); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`UPDATE subscriptions SET event_count = event_count + 1 WHERE id = ?`, q.SubscriptionID); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`
		UPDATE events SET injected = 1 WHERE id IN (
			SELECT id FROM events
			WHERE subscription_id = ? AND injected = 0 AND verification_result = ?
			ORDER BY received_at LIMIT 1
		)`, q.SubscriptionID, models.VerificationAccepted); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}
