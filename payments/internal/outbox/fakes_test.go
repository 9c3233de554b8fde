package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"policypay/payments/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	rows     []*domain.OutboxMessage
	fetchErr []error
	markErr  map[string]error
	lost     map[string]bool
	created  int
}

func newMemStore(msgs ...domain.OutboxMessage) *memStore {
	s := &memStore{markErr: map[string]error{}, lost: map[string]bool{}}
	for i := range msgs {
		m := msgs[i]
		s.rows = append(s.rows, &m)
	}
	return s
}

func (s *memStore) CreateMessageTx(_ context.Context, _ domain.Querier, msg *domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == msg.ID {
			return domain.ErrAlreadyExists
		}
	}
	m := *msg
	s.rows = append(s.rows, &m)
	s.created++
	return nil
}

func (s *memStore) GetPendingMessages(_ context.Context, _ domain.Querier, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fetchErr) > 0 {
		err := s.fetchErr[0]
		s.fetchErr = s.fetchErr[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []domain.OutboxMessage
	for _, r := range s.rows {
		if r.Pending() {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkProcessed(_ context.Context, _ domain.Querier, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.markErr[id]; ok {
		delete(s.markErr, id)
		return false, err
	}
	for _, r := range s.rows {
		if r.ID != id {
			continue
		}
		if s.lost[id] || !r.Pending() {
			t := at
			r.ProcessedAt = &t
			return false, nil
		}
		t := at
		r.ProcessedAt = &t
		return true, nil
	}
	return false, nil
}

func (s *memStore) DeleteProcessedBefore(_ context.Context, _ domain.Querier, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*domain.OutboxMessage
	var n int64
	for _, r := range s.rows {
		if r.ProcessedAt != nil && r.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

func (s *memStore) pendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, r := range s.rows {
		if r.Pending() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

type published struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	mu      sync.Mutex
	sent    []published
	failFor map[string]int
	onSend  func(key string)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failFor: map[string]int{}}
}

var errBrokerDown = errors.New("broker unavailable")

func (p *fakePublisher) Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if p.onSend != nil {
		p.onSend(key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[key] > 0 {
		p.failFor[key]--
		return errBrokerDown
	}
	p.sent = append(p.sent, published{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		keys = append(keys, s.key)
	}
	return keys
}
