// Package prefs is an observable key to JSON-string preference store.
// Writes persist first and then notify subscribers of the key.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kimhsiao/babylog/internal/logging"
)

// SelectedTabKey holds the selected navigation tab.
const SelectedTabKey = "nav.selected_tab"

// Navigation tabs.
const (
	TabHome     = "home"
	TabLogs     = "logs"
	TabCalendar = "calendar"
	TabGrowth   = "growth"
	TabMore     = "more"
)

// Tabs lists the navigation tabs in display order.
var Tabs = []string{TabHome, TabLogs, TabCalendar, TabGrowth, TabMore}

// Persister stores raw JSON values by key.
type Persister interface {
	Load(ctx context.Context, key string) (string, bool, error)
	Save(ctx context.Context, key, value string) error
}

// Store caches values read through a Persister and broadcasts writes.
type Store struct {
	p Persister

	mu    sync.Mutex
	cache map[string]string
	subs  map[string]map[int]func(string)
	next  int
}

// New creates a Store over p.
func New(p Persister) *Store {
	return &Store{
		p:     p,
		cache: make(map[string]string),
		subs:  make(map[string]map[int]func(string)),
	}
}

// Raw returns the JSON value for key.
func (s *Store) Raw(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	v, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return v, true, nil
	}

	v, ok, err := s.p.Load(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, true, nil
}

// Get decodes the value for key into out and reports whether it was set.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := s.Raw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, fmt.Errorf("decode preference %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value, persists it, and notifies subscribers of key when the
// stored JSON changed.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}
	raw := string(data)

	prev, had, err := s.Raw(ctx, key)
	if err != nil {
		return err
	}
	if had && prev == raw {
		return nil
	}

	if err := s.p.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("save preference %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = raw
	fns := make([]func(string), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	logging.Debug("Preference changed", map[string]interface{}{
		"key":         key,
		"subscribers": len(fns),
	})
	for _, fn := range fns {
		fn(raw)
	}
	return nil
}

// Subscribe calls fn with the new JSON value after every change of key.
// The returned func unsubscribes.
func (s *Store) Subscribe(key string, fn func(raw string)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(string))
	}
	s.subs[key][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[key], id)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
			s.mu.Unlock()
		})
	}
}

// SelectedTab returns the selected navigation tab, TabHome by default.
func (s *Store) SelectedTab(ctx context.Context) (string, error) {
	tab := TabHome
	if _, err := s.Get(ctx, SelectedTabKey, &tab); err != nil {
		return TabHome, err
	}
	return tab, nil
}

// SelectTab stores the selected navigation tab.
func (s *Store) SelectTab(ctx context.Context, tab string) error {
	for _, t := range Tabs {
		if t == tab {
			return s.Set(ctx, SelectedTabKey, tab)
		}
	}
	return fmt.Errorf("unknown tab %q", tab)
}
