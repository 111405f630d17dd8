package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const ownerQueryTimeout = 2 * time.Second

// NameWatcher reports bus clients that disconnect. It listens for
// NameOwnerChanged and calls back the watches registered on a name once the
// name loses its owner.
type NameWatcher struct {
	conn     *dbus.Conn
	logger   *zap.Logger
	hasOwner func(name string) (bool, error)

	signals chan *dbus.Signal
	quit    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	next    uint64
	watches map[string]map[uint64]func(string)
}

// NewNameWatcher subscribes to NameOwnerChanged on conn and starts
// dispatching.
func NewNameWatcher(conn *dbus.Conn, logger *zap.Logger) (*NameWatcher, error) {
	err := conn.AddMatchSignal(
		dbus.WithMatchSender(dbusName),
		dbus.WithMatchInterface(dbusName),
		dbus.WithMatchMember("NameOwnerChanged"),
	)
	if err != nil {
		return nil, fmt.Errorf("match NameOwnerChanged: %w", err)
	}

	w := newNameWatcher(logger, func(name string) (bool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), ownerQueryTimeout)
		defer cancel()
		var has bool
		err := conn.BusObject().CallWithContext(ctx, dbusName+".NameHasOwner", 0, name).Store(&has)
		return has, err
	})
	w.conn = conn
	w.signals = make(chan *dbus.Signal, 16)
	conn.Signal(w.signals)

	w.wg.Add(1)
	go w.dispatch()
	return w, nil
}

func newNameWatcher(logger *zap.Logger, hasOwner func(string) (bool, error)) *NameWatcher {
	return &NameWatcher{
		logger:   logger,
		hasOwner: hasOwner,
		quit:     make(chan struct{}),
		watches:  make(map[string]map[uint64]func(string)),
	}
}

// Watch calls onVanish once client leaves the bus. If client is already
// gone onVanish runs soon after Watch returns.
func (w *NameWatcher) Watch(client string, onVanish func(string)) (func(), error) {
	w.mu.Lock()
	w.next++
	id := w.next
	if w.watches[client] == nil {
		w.watches[client] = make(map[uint64]func(string))
	}
	w.watches[client][id] = onVanish
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { w.remove(client, id) })
	}

	has, err := w.hasOwner(client)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query owner of %s: %w", client, err)
	}
	if !has {
		go w.vanished(client)
	}
	return cancel, nil
}

func (w *NameWatcher) remove(client string, id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches[client], id)
	if len(w.watches[client]) == 0 {
		delete(w.watches, client)
	}
}

// vanished fires and drops every watch on name.
func (w *NameWatcher) vanished(name string) {
	w.mu.Lock()
	watches := w.watches[name]
	delete(w.watches, name)
	w.mu.Unlock()

	if len(watches) == 0 {
		return
	}
	w.logger.Debug("client left the bus", zap.String("client", name))
	for _, fn := range watches {
		fn(name)
	}
}

func (w *NameWatcher) dispatch() {
	defer w.wg.Done()
	for {
		select {
		case sig := <-w.signals:
			if name, ok := vanishedName(sig); ok {
				w.vanished(name)
			}
		case <-w.quit:
			return
		}
	}
}

// vanishedName extracts the name that lost its owner from a
// NameOwnerChanged signal.
func vanishedName(sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != ownerSignal {
		return "", false
	}
	// Body: [name string, old_owner string, new_owner string]
	if len(sig.Body) < 3 {
		return "", false
	}
	name, ok := sig.Body[0].(string)
	if !ok || name == "" {
		return "", false
	}
	newOwner, ok := sig.Body[2].(string)
	if !ok || newOwner != "" {
		return "", false
	}
	return name, true
}

// Close stops dispatching. Outstanding watches never fire.
func (w *NameWatcher) Close() {
	if w.conn != nil {
		w.conn.RemoveSignal(w.signals)
	}
	close(w.quit)
	w.wg.Wait()
}
