package engine

import (
	"sync"

	"github.com/miradorstack/nestling/internal/models"
)

// NetworkState is a snapshot of connectivity.
type NetworkState struct {
	Connected bool
	WiFi      bool
}

// NetworkMonitor reports the current connectivity.
type NetworkMonitor interface {
	State() NetworkState
}

// StaticNetwork reports a fixed state, usually taken from configuration.
type StaticNetwork NetworkState

func (s StaticNetwork) State() NetworkState { return NetworkState(s) }

// SwitchableNetwork is a monitor whose state can be changed at runtime.
type SwitchableNetwork struct {
	mu    sync.RWMutex
	state NetworkState
}

// NewSwitchableNetwork starts with the given state.
func NewSwitchableNetwork(initial NetworkState) *SwitchableNetwork {
	return &SwitchableNetwork{state: initial}
}

func (n *SwitchableNetwork) State() NetworkState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Set replaces the current state.
func (n *SwitchableNetwork) Set(state NetworkState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = state
}

// Policy decides whether a cloud attempt is made at all.
type Policy struct {
	Network NetworkMonitor
}

// Permitted requires connectivity, user opt-in and, when WiFiOnly is set, a Wi-Fi link.
func (p Policy) Permitted(settings models.AnalysisSettings) bool {
	if p.Network == nil || !settings.CloudEnabled {
		return false
	}
	state := p.Network.State()
	if !state.Connected {
		return false
	}
	return !settings.WiFiOnly || state.WiFi
}
