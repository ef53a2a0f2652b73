// Package events implements the observer-list EventBus embedders attach
// to in order to receive requestFailed and connectionClosed observations.
package events

import (
	"net/http"
	"sync"

	"github.com/nguyenduc308/proxy-chain/registry"
)

// RequestFailed carries the failure and the request it occurred on.
type RequestFailed struct {
	Error   error
	Request *http.Request
}

// ConnectionClosed carries the final byte counters for a closed
// connection.
type ConnectionClosed struct {
	ConnectionID registry.ID
	Stats        registry.Stats
}

// Bus is a thread-safe, fan-out observer list. The zero value is usable.
type Bus struct {
	mu              sync.RWMutex
	onRequestFailed []func(RequestFailed)
	onConnClosed    []func(ConnectionClosed)
}

// OnRequestFailed registers an observer for requestFailed events.
func (b *Bus) OnRequestFailed(fn func(RequestFailed)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRequestFailed = append(b.onRequestFailed, fn)
}

// OnConnectionClosed registers an observer for connectionClosed events.
func (b *Bus) OnConnectionClosed(fn func(ConnectionClosed)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnClosed = append(b.onConnClosed, fn)
}

// EmitRequestFailed notifies every registered requestFailed observer.
func (b *Bus) EmitRequestFailed(evt RequestFailed) {
	b.mu.RLock()
	observers := make([]func(RequestFailed), len(b.onRequestFailed))
	copy(observers, b.onRequestFailed)
	b.mu.RUnlock()
	for _, fn := range observers {
		fn(evt)
	}
}

// EmitConnectionClosed notifies every registered connectionClosed
// observer.
func (b *Bus) EmitConnectionClosed(evt ConnectionClosed) {
	b.mu.RLock()
	observers := make([]func(ConnectionClosed), len(b.onConnClosed))
	copy(observers, b.onConnClosed)
	b.mu.RUnlock()
	for _, fn := range observers {
		fn(evt)
	}
}
