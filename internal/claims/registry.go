// Package claims tracks which bus clients currently want events from which
// sensor, releasing a client's claims when it leaves the bus.
package claims

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/sensor"
)

// Watcher registers liveness watches on bus clients.
type Watcher interface {
	// Watch arranges for onVanish to be called once client disconnects.
	// onVanish must not be invoked synchronously from within Watch, and
	// Watch must not wait on a running onVanish. The returned cancel stops
	// the watch and is safe to call more than once.
	Watch(client string, onVanish func(client string)) (cancel func(), err error)
}

// Registry is the per-sensor table of claiming clients.
type Registry struct {
	logger  *zap.Logger
	watcher Watcher

	mu      sync.Mutex
	clients [sensor.NumKinds]map[string]func()

	// OnChange, when set, is called after a claim or release changed the
	// number of claimants of kind. It runs outside the registry lock, so
	// calls for concurrent changes may arrive out of order.
	OnChange func(kind sensor.Kind, claimants int)
}

// NewRegistry returns an empty registry using watcher for liveness.
func NewRegistry(watcher Watcher, logger *zap.Logger) *Registry {
	r := &Registry{
		logger:  logger,
		watcher: watcher,
	}
	for i := range r.clients {
		r.clients[i] = make(map[string]func())
	}
	return r
}

// Claim records that client wants events from kind. Claiming twice is a
// no-op.
func (r *Registry) Claim(kind sensor.Kind, client string) error {
	if !kind.Valid() {
		return fmt.Errorf("claim: invalid sensor kind %d", int(kind))
	}

	// The lock is held across Watch so a vanish notification racing with
	// this claim is applied after the claim is recorded, never before.
	r.mu.Lock()
	if _, held := r.clients[kind][client]; held {
		r.mu.Unlock()
		return nil
	}
	cancel, err := r.watcher.Watch(client, r.ClientVanished)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("watch %s: %w", client, err)
	}
	r.clients[kind][client] = cancel
	count := len(r.clients[kind])
	r.mu.Unlock()

	r.logger.Debug("claimed", zap.Stringer("sensor", kind), zap.String("client", client))
	r.changed(kind, count)
	return nil
}

// Release drops client's claim on kind, if it has one. Claims on other
// kinds are untouched.
func (r *Registry) Release(kind sensor.Kind, client string) {
	if !kind.Valid() {
		return
	}

	r.mu.Lock()
	cancel, held := r.clients[kind][client]
	if held {
		delete(r.clients[kind], client)
	}
	count := len(r.clients[kind])
	r.mu.Unlock()

	if !held {
		return
	}
	cancel()
	r.logger.Debug("released", zap.Stringer("sensor", kind), zap.String("client", client))
	r.changed(kind, count)
}

// ClientVanished releases every claim client holds, exactly as if it had
// called Release for each sensor kind.
func (r *Registry) ClientVanished(client string) {
	r.logger.Debug("client vanished", zap.String("client", client))
	for _, kind := range sensor.Kinds() {
		r.Release(kind, client)
	}
}

// Holds reports whether client has a claim on kind.
func (r *Registry) Holds(kind sensor.Kind, client string) bool {
	if !kind.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.clients[kind][client]
	return held
}

// Count returns the number of clients claiming kind.
func (r *Registry) Count(kind sensor.Kind) int {
	if !kind.Valid() {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients[kind])
}

// Clients returns the sorted names of the clients claiming kind.
func (r *Registry) Clients(kind sensor.Kind) []string {
	if !kind.Valid() {
		return nil
	}
	r.mu.Lock()
	names := make([]string, 0, len(r.clients[kind]))
	for name := range r.clients[kind] {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Close cancels every outstanding watch and forgets all claims.
func (r *Registry) Close() {
	var cancels []func()
	r.mu.Lock()
	for i := range r.clients {
		for _, cancel := range r.clients[i] {
			cancels = append(cancels, cancel)
		}
		r.clients[i] = make(map[string]func())
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (r *Registry) changed(kind sensor.Kind, count int) {
	if r.OnChange != nil {
		r.OnChange(kind, count)
	}
}
