package lease

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when no database is configured.
// A single mutex makes every conditional mutation atomic, matching the
// row-level guarantees of the SQL backends.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	codes  map[string]*AuthCode
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{codes: make(map[string]*AuthCode)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Get(ctx context.Context, code string) (AuthCode, error) {
	if err := ctx.Err(); err != nil {
		return AuthCode{}, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return AuthCode{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return AuthCode{}, ErrNotFound
	}
	return c.clone(), nil
}

func (s *InMemoryStore) Bind(ctx context.Context, code, room string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateBind(code, room); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[NormalizeCode(code)]
	if !ok || c.Status != StatusAssigned || c.InUse {
		return false, nil
	}
	since := now.UTC()
	c.InUse = true
	c.InUseSince = &since
	c.BoundRoom = &room
	return true, nil
}

func (s *InMemoryStore) ClearStale(ctx context.Context, code string, cutoff time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[NormalizeCode(code)]
	if !ok || !c.stale(cutoff) {
		return false, nil
	}
	c.release()
	return true, nil
}

func (s *InMemoryStore) Touch(ctx context.Context, code string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[NormalizeCode(code)]
	if !ok || !c.InUse {
		return false, nil
	}
	since := now.UTC()
	c.InUseSince = &since
	return true, nil
}

func (s *InMemoryStore) Clear(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.codes[NormalizeCode(code)]; ok {
		c.release()
	}
	return nil
}

func (s *InMemoryStore) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.codes {
		if c.stale(cutoff) {
			c.release()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.codes {
		if c.Status != StatusAssigned {
			continue
		}
		if exp, ok := c.ExpiresAt(); ok && exp.Before(cutoff) {
			delete(s.codes, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Create(ctx context.Context, in CreateRecord) (AuthCode, error) {
	if err := ctx.Err(); err != nil {
		return AuthCode{}, err
	}
	if err := validateCreate(in); err != nil {
		return AuthCode{}, err
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	code := NormalizeCode(in.Code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[code]; exists {
		return AuthCode{}, ErrDuplicate
	}
	s.nextID++
	c := &AuthCode{
		ID:             s.nextID,
		Code:           code,
		Status:         in.Status,
		CreatedAt:      in.CreatedAt.UTC(),
		ExpiresMinutes: in.ExpiresMinutes,
		Note:           trimPtr(in.Note),
	}
	if in.AssignedTo != nil {
		v := *in.AssignedTo
		c.AssignedTo = &v
	}
	if in.AssignedAt != nil {
		c.AssignedAt = timePtr(in.AssignedAt.UTC())
	}
	s.codes[code] = c
	return c.clone(), nil
}

func (s *InMemoryStore) Assign(ctx context.Context, code string, holder int64, now time.Time) (AuthCode, error) {
	if err := ctx.Err(); err != nil {
		return AuthCode{}, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return AuthCode{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return AuthCode{}, ErrNotFound
	}
	if c.Status != StatusAvailable {
		return AuthCode{}, ErrNotAvailable
	}
	c.Status = StatusAssigned
	c.AssignedTo = &holder
	c.AssignedAt = timePtr(now.UTC())
	return c.clone(), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	code = NormalizeCode(code)
	if _, ok := s.codes[code]; !ok {
		return false, nil
	}
	delete(s.codes, code)
	return true, nil
}

func (s *InMemoryStore) ListByHolder(ctx context.Context, holder int64) ([]AuthCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]AuthCode, 0, 8)
	for _, c := range s.codes {
		if c.AssignedTo != nil && *c.AssignedTo == holder {
			out = append(out, c.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].AssignedAt, out[j].AssignedAt
		switch {
		case ai == nil && aj == nil:
			return out[i].ID > out[j].ID
		case ai == nil:
			return false
		case aj == nil:
			return true
		case !ai.Equal(*aj):
			return ai.After(*aj)
		default:
			return out[i].ID > out[j].ID
		}
	})
	return out, nil
}

func (s *InMemoryStore) List(ctx context.Context, limit int) ([]AuthCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]AuthCode, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, c.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, c := range s.codes {
		st.Total++
		switch c.Status {
		case StatusAvailable:
			st.Available++
		case StatusAssigned:
			st.Assigned++
		}
		if c.InUse {
			st.InUse++
		}
	}
	return st, nil
}

func (c *AuthCode) stale(cutoff time.Time) bool {
	return c.InUse && c.InUseSince != nil && !c.InUseSince.After(cutoff)
}

func (c *AuthCode) release() {
	c.InUse = false
	c.InUseSince = nil
	c.BoundRoom = nil
}

func (c *AuthCode) clone() AuthCode {
	out := *c
	if c.AssignedTo != nil {
		v := *c.AssignedTo
		out.AssignedTo = &v
	}
	if c.AssignedAt != nil {
		out.AssignedAt = timePtr(*c.AssignedAt)
	}
	if c.InUseSince != nil {
		out.InUseSince = timePtr(*c.InUseSince)
	}
	if c.BoundRoom != nil {
		v := *c.BoundRoom
		out.BoundRoom = &v
	}
	if c.Note != nil {
		v := *c.Note
		out.Note = &v
	}
	return out
}
