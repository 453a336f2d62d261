package bot

import (
	"strings"
	"sync"
)

// state is the mutable operator-facing state. The dispatch loop owns it, but
// async workers read it too, so access goes through the mutex.
type state struct {
	mu sync.Mutex

	enabled    bool
	controller string
}

func (s *state) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *state) SetEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

func (s *state) Controller() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

// AdoptController records the controller username once, on the first login
// through the controller endpoint. A configured controller is never replaced.
func (s *state) AdoptController(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controller != "" || username == "" {
		return false
	}
	s.controller = username
	return true
}

// IsController reports whether the sender is allowed to command the bot.
// Usernames compare case-insensitively the way the game treats them.
func (s *state) IsController(sender string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller != "" && strings.EqualFold(sender, s.controller)
}
