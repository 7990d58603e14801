// Package listenerreg tracks the one TCP listener each instance keeps
// open across reconcile cycles, so a port picked once survives process
// restarts of the calling logic within the same process lifetime
// without rebinding — grounded on the reference implementation's
// process-wide listener_map() (a OnceLock<Mutex<HashMap<...>>>).
package listenerreg

import (
	"fmt"
	"net"
	"sync"

	"github.com/friendlink-dev/friendlink/internal/transport"
)

type entry struct {
	listener *transport.Listener
}

// Registry is a process-wide, mutex-guarded instance_id -> listener map.
type Registry struct {
	mu      sync.Mutex
	byInst  map[string]*entry
}

// New returns an empty registry. Callers typically keep one process-wide
// instance, mirroring the teacher's package-level singleton pattern but
// without relying on global state, so tests can construct isolated
// registries.
func New() *Registry {
	return &Registry{byInst: make(map[string]*entry)}
}

// Ensure returns the existing listener's endpoint for instanceID, or
// binds a new one on preferredPort (0 for OS-assigned) using the given
// protocol parameters and handler.
func (r *Registry) Ensure(instanceID string, preferredPort int, groupID, localPeerID, sharedSecret string, handler transport.Handler, validator transport.SchemaValidator, logger transport.Logger) (endpoint string, port int, err error) {
	r.mu.Lock()
	if e, ok := r.byInst[instanceID]; ok {
		port = e.listener.Port()
		r.mu.Unlock()
		return transport.EndpointForPort(port), port, nil
	}
	r.mu.Unlock()

	l := &transport.Listener{
		GroupID:      groupID,
		LocalPeerID:  localPeerID,
		SharedSecret: sharedSecret,
		Handler:      handler,
		Validator:    validator,
		Logger:       logger,
	}
	if err := l.Listen(preferredPort); err != nil {
		return "", 0, fmt.Errorf("bind listener for %s: %w", instanceID, err)
	}

	r.mu.Lock()
	r.byInst[instanceID] = &entry{listener: l}
	r.mu.Unlock()

	port = l.Port()
	return transport.EndpointForPort(port), port, nil
}

// Stop tears down and forgets the listener for instanceID, if any.
func (r *Registry) Stop(instanceID string) {
	r.mu.Lock()
	e, ok := r.byInst[instanceID]
	if ok {
		delete(r.byInst, instanceID)
	}
	r.mu.Unlock()

	if ok {
		e.listener.Stop()
	}
}

// Port returns the currently bound port for instanceID, or 0 if none.
func (r *Registry) Port(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byInst[instanceID]; ok {
		return e.listener.Port()
	}
	return 0
}

// LocalAddrString is a small convenience for logging.
func LocalAddrString(a net.Addr) string {
	if a == nil {
		return "<unknown>"
	}
	return a.String()
}
