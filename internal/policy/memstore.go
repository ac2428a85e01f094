package policy

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. It keeps insertion order and, like
// Windows Firewall, allows several rules with the same name.
type MemoryStore struct {
	mu    sync.Mutex
	rules []Rule
}

func NewMemoryStore(rules ...Rule) *MemoryStore {
	s := &MemoryStore{}
	for _, r := range rules {
		s.rules = append(s.rules, cloneRule(r))
	}
	return s
}

func (s *MemoryStore) List(context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = cloneRule(r)
	}
	return out, nil
}

func (s *MemoryStore) Add(_ context.Context, r Rule) error {
	s.mu.Lock()
	s.rules = append(s.rules, cloneRule(r))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	s.rules = slices.DeleteFunc(s.rules, func(r Rule) bool { return r.Name == name })
	s.mu.Unlock()
	return nil
}

func cloneRule(r Rule) Rule {
	r.RemoteAddresses = slices.Clone(r.RemoteAddresses)
	return r
}
