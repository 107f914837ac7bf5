package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"hookbridge/internal/platform/models"
)

// LogEvent appends one row to the event log and returns it.
func (s *Store) LogEvent(subscriptionID, payload, result string, injected bool) (*models.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	event := &models.Event{
		ID:                 "evt_" + uuid.New().String(),
		SubscriptionID:     subscriptionID,
		ReceivedAt:         time.Now().Unix(),
		Payload:            payload,
		VerificationResult: result,
		Injected:           injected,
	}

	_, err := s.db.Exec(`
		INSERT INTO events (id, subscription_id, received_at, payload, verification_result, injected)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.SubscriptionID, event.ReceivedAt, event.Payload,
		event.VerificationResult, event.Injected)
	if err != nil {
		return nil, err
	}

	return event, nil
}

// MarkEventInjected flips injected to true. Calling it again is a no-op.
func (s *Store) MarkEventInjected(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`UPDATE events SET injected = 1 WHERE id = ?`, id)
	return err
}

func (s *Store) GetEvent(id string) (*models.Event, error) {
	row := s.db.QueryRow(`
		SELECT id, subscription_id, received_at, payload, verification_result, injected
		FROM events WHERE id = ?`, id)

	var e models.Event
	err := row.Scan(&e.ID, &e.SubscriptionID, &e.ReceivedAt, &e.Payload, &e.VerificationResult, &e.Injected)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEvents(subscriptionID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(`
		SELECT id, subscription_id, received_at, payload, verification_result, injected
		FROM events WHERE subscription_id = ? ORDER BY received_at DESC LIMIT ?`,
		subscriptionID, limit)
}

func (s *Store) ListUninjectedEvents(subscriptionID string) ([]*models.Event, error) {
	return s.queryEvents(`
		SELECT id, subscription_id, received_at, payload, verification_result, injected
		FROM events WHERE subscription_id = ? AND injected = 0 AND verification_result = ?
		ORDER BY received_at`,
		subscriptionID, models.VerificationAccepted)
}

func (s *Store) queryEvents(query string, args ...any) ([]*models.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.ReceivedAt, &e.Payload, &e.VerificationResult, &e.Injected); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// PruneEventsOlderThan removes event rows received before cutoff.
func (s *Store) PruneEventsOlderThan(cutoff int64) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`DELETE FROM events WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
