package view

import "sync"

// Subscription is the visibility-scoped part of the view's host
// listeners. While enabled, tabs finishing a load are captured.
// Enable and Disable are idempotent; the hooks fire only on a transition.
type Subscription struct {
	mu        sync.Mutex
	enabled   bool
	onEnable  func()
	onDisable func()
}

// NewSubscription creates a disabled subscription. Either hook may be nil.
func NewSubscription(onEnable, onDisable func()) *Subscription {
	return &Subscription{onEnable: onEnable, onDisable: onDisable}
}

// Enable turns the subscription on. Returns false if it already was.
func (s *Subscription) Enable() bool {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return false
	}
	s.enabled = true
	s.mu.Unlock()
	if s.onEnable != nil {
		s.onEnable()
	}
	return true
}

// Arm turns the subscription on without firing the enable hook, for a
// caller that already did the hook's work. Returns false if it was on.
func (s *Subscription) Arm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return false
	}
	s.enabled = true
	return true
}

// Disable turns the subscription off. Returns false if it already was.
func (s *Subscription) Disable() bool {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return false
	}
	s.enabled = false
	s.mu.Unlock()
	if s.onDisable != nil {
		s.onDisable()
	}
	return true
}

// Enabled reports the current state.
func (s *Subscription) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}
