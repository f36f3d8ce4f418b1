package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"atendimento/internal/models"
)

// Memory keeps Problem records in process memory. It backs DB_DRIVER=memory
// and the engine tests; all data is lost on exit.
type Memory struct {
	mu     sync.Mutex
	rows   []models.Problem
	nextID int64
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the creation timestamp source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) insertLocked(p *models.Problem) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.ID = m.nextID
	m.nextID++
	m.rows = append(m.rows, *p)
}

func (m *Memory) countLocked(status models.Status) int {
	n := 0
	for _, r := range m.rows {
		if r.Status == status {
			n++
		}
	}
	return n
}

func (m *Memory) Admit(_ context.Context, p *models.Problem, maxActive int) (models.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Status = models.StatusWaiting
	if m.countLocked(models.StatusActive) < maxActive {
		p.Status = models.StatusActive
	}
	m.insertLocked(p)
	return p.Status, nil
}

func (m *Memory) Insert(_ context.Context, p *models.Problem) error {
	if !p.Status.Valid() {
		return fmt.Errorf("insert problem: invalid status %q", p.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(p)
	return nil
}

func (m *Memory) CountByStatus(_ context.Context, status models.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(status), nil
}

func before(a, b models.Problem) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *Memory) WaitingPosition(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var me *models.Problem
	for i := range m.rows {
		if m.rows[i].ID == id {
			me = &m.rows[i]
		}
	}
	if me == nil {
		return 0, nil
	}
	n := 0
	for _, r := range m.rows {
		if r.Status == models.StatusWaiting && (r.ID == me.ID || before(r, *me)) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) currentLocked(conversationID string) int {
	return m.latestLocked(conversationID, func(s models.Status) bool { return s != models.StatusCompleted })
}

func (m *Memory) latestLocked(conversationID string, match func(models.Status) bool) int {
	idx := -1
	for i, r := range m.rows {
		if r.ConversationID != conversationID || !match(r.Status) {
			continue
		}
		if idx < 0 || before(m.rows[idx], r) {
			idx = i
		}
	}
	return idx
}

func (m *Memory) Current(_ context.Context, conversationID string) (*models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.currentLocked(conversationID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	p := m.rows[idx]
	return &p, nil
}

func (m *Memory) ActiveRecord(_ context.Context, conversationID string) (*models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.latestLocked(conversationID, func(s models.Status) bool { return s == models.StatusActive })
	if idx < 0 {
		return nil, ErrNotFound
	}
	p := m.rows[idx]
	return &p, nil
}

func (m *Memory) Complete(_ context.Context, conversationID string, recordID int64, at time.Time) ([]models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Problem
	for i := range m.rows {
		r := &m.rows[i]
		if r.ConversationID != conversationID || r.Status == models.StatusCompleted {
			continue
		}
		if r.ID != recordID && r.Status != models.StatusActive && r.Status != models.StatusPending {
			continue
		}
		done := at
		r.Status = models.StatusCompleted
		r.CompletedAt = &done
		out = append(out, *r)
	}
	return out, nil
}

func (m *Memory) OldestWaiting(_ context.Context) (*models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, r := range m.rows {
		if r.Status == models.StatusWaiting && (idx < 0 || before(r, m.rows[idx])) {
			idx = i
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	p := m.rows[idx]
	return &p, nil
}

func (m *Memory) Activate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		r := &m.rows[i]
		if r.ID == id && (r.Status == models.StatusWaiting || r.Status == models.StatusPending) {
			r.Status = models.StatusActive
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Attend(_ context.Context, conversationID, attendantID string, maxActive int) (*models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.latestLocked(conversationID, func(s models.Status) bool { return s == models.StatusActive })
	if idx < 0 {
		idx = m.currentLocked(conversationID)
		if idx < 0 {
			return nil, ErrNotFound
		}
		if m.countLocked(models.StatusActive) >= maxActive {
			return nil, ErrQueueFull
		}
	}
	for i := range m.rows {
		r := &m.rows[i]
		if r.ConversationID != conversationID || (i != idx && r.Status != models.StatusPending) {
			continue
		}
		if i == idx {
			r.Status = models.StatusActive
		}
		r.AttendantID = &attendantID
	}
	p := m.rows[idx]
	return &p, nil
}

func (m *Memory) SetFeedback(_ context.Context, id int64, rating int) error {
	if !validRating(rating) {
		return ErrInvalidRating
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		r := &m.rows[i]
		if r.ID == id && r.Status == models.StatusCompleted {
			r.FeedbackRating = &rating
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) List(_ context.Context, q ListQuery) ([]models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Problem{}
	for _, r := range m.rows {
		if r.Status == q.Status {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.NewestFirst {
			return before(out[j], out[i])
		}
		return before(out[i], out[j])
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MemoryIgnored is the in-memory Ignored list.
type MemoryIgnored struct {
	mu       sync.RWMutex
	contacts []models.IgnoredContact
}

func NewMemoryIgnored(contacts ...models.IgnoredContact) *MemoryIgnored {
	return &MemoryIgnored{contacts: contacts}
}

func (m *MemoryIgnored) IsIgnored(_ context.Context, conversationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.contacts {
		if c.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryIgnored) List(_ context.Context) ([]models.IgnoredContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.IgnoredContact{}, m.contacts...), nil
}

func (m *MemoryIgnored) ReplaceAll(_ context.Context, contacts []models.IgnoredContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append([]models.IgnoredContact{}, contacts...)
	return nil
}
