package automation

import (
	"sort"
	"sync"
)

// memStore is the in-memory Store used across the package's tests.
type memStore struct {
	mu       sync.Mutex
	rules    map[string]*Rule
	cfg      GlobalConfig
	activity []ActivityEvent
	marker   int64

	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		rules: make(map[string]*Rule),
		cfg:   DefaultGlobalConfig(),
	}
}

func (s *memStore) ListRules() ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) GetRule(id string) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *memStore) SaveRule(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	c := *r
	s.rules[r.ID] = &c
	s.marker++
	return nil
}

func (s *memStore) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	s.marker++
	return nil
}

func (s *memStore) Config() (GlobalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *memStore) SaveConfig(cfg GlobalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.marker++
	return nil
}

func (s *memStore) AppendActivity(ev ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, ev)
	return nil
}

func (s *memStore) RecentActivity(limit int) ([]ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.activity)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ActivityEvent, n)
	for i := 0; i < n; i++ {
		out[i] = s.activity[len(s.activity)-1-i]
	}
	return out, nil
}

func (s *memStore) ClearActivity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = nil
	return nil
}

func (s *memStore) LastModified() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *memStore) Close() error { return nil }
