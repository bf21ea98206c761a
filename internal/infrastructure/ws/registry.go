package ws

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
)

var ErrConflict = errors.New("connection already registered")

// ConflictError is returned when a connection is already bound to a different
// owner, or when its registration is only partially recorded.
type ConflictError struct {
	ConnectionID  string
	Owner         string
	ExistingOwner string
	Partial       bool
}

func (e *ConflictError) Error() string {
	if e.Partial {
		return fmt.Sprintf("connection %s has a partial registration", e.ConnectionID)
	}
	return fmt.Sprintf("connection %s is registered to owner %q, not %q", e.ConnectionID, e.ExistingOwner, e.Owner)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type RegisterOutcome int

const (
	Registered RegisterOutcome = iota
	AlreadyRegistered
)

func (o RegisterOutcome) String() string {
	if o == AlreadyRegistered {
		return "already_registered"
	}
	return "registered"
}

type entry struct {
	owner string
	conn  *Connection
}

// Registry maps live connections to their owners. All three indexes change
// together under one lock, so readers never observe a half-applied update.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]entry
	byConn  map[*Connection]string
	byOwner map[string]mapset.Set[string]

	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewRegistry(logger logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		byID:    make(map[string]entry),
		byConn:  make(map[*Connection]string),
		byOwner: make(map[string]mapset.Set[string]),
		logger:  logger,
		metrics: m,
	}
}

func ownerKey(owner string) string {
	return strings.ToLower(owner)
}

// Register binds conn to owner under a fresh connection id. Registering the
// same pair again is a no-op reported as AlreadyRegistered; owner ids compare
// case-insensitively.
func (r *Registry) Register(conn *Connection, owner string) (RegisterOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byConn[conn]; ok {
		existing, ok := r.byID[id]
		if !ok {
			r.metrics.Conflict()
			return 0, &ConflictError{ConnectionID: id, Owner: owner, Partial: true}
		}
		if !strings.EqualFold(existing.owner, owner) {
			r.metrics.Conflict()
			return 0, &ConflictError{ConnectionID: id, Owner: owner, ExistingOwner: existing.owner}
		}

		r.logger.Warn(logging.Registry, logging.Register, "connection already registered", map[logging.ExtraKey]any{
			logging.ConnectionID: id,
			logging.Owner:        owner,
		})
		return AlreadyRegistered, nil
	}

	id := uuid.NewString()
	r.byID[id] = entry{owner: owner, conn: conn}
	r.byConn[conn] = id

	key := ownerKey(owner)
	ids, ok := r.byOwner[key]
	if !ok {
		ids = mapset.NewThreadUnsafeSet[string]()
		r.byOwner[key] = ids
	}
	ids.Add(id)

	r.metrics.ConnectionOpened()
	r.logger.Debug(logging.Registry, logging.Register, "connection registered", map[logging.ExtraKey]any{
		logging.ConnectionID: id,
		logging.Owner:        owner,
	})
	return Registered, nil
}

// Unregister removes conn. It reports false for an unknown connection, and
// also for a partial record, which is purged.
func (r *Registry) Unregister(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return false
	}
	delete(r.byConn, conn)

	existing, ok := r.byID[id]
	if !ok {
		r.logger.Warn(logging.Registry, logging.Unregister, "purged partial registration", map[logging.ExtraKey]any{
			logging.ConnectionID: id,
		})
		return false
	}
	delete(r.byID, id)
	r.removeFromOwner(existing.owner, id)

	r.metrics.ConnectionClosed()
	r.logger.Debug(logging.Registry, logging.Unregister, "connection unregistered", map[logging.ExtraKey]any{
		logging.ConnectionID: id,
		logging.Owner:        existing.owner,
	})
	return true
}

func (r *Registry) removeFromOwner(owner, id string) {
	key := ownerKey(owner)
	ids, ok := r.byOwner[key]
	if !ok {
		return
	}
	ids.Remove(id)
	if ids.Cardinality() == 0 {
		delete(r.byOwner, key)
	}
}

func (r *Registry) OwnerOf(conn *Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.owner, true
}

func (r *Registry) IDOf(conn *Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byConn[conn]
	return id, ok
}

// ConnectionsOf returns the owner's connections that are still Open.
func (r *Registry) ConnectionsOf(owner string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connectionsOfLocked(owner)
}

func (r *Registry) connectionsOfLocked(owner string) []*Connection {
	ids, ok := r.byOwner[ownerKey(owner)]
	if !ok {
		return nil
	}

	conns := make([]*Connection, 0, ids.Cardinality())
	ids.Each(func(id string) bool {
		if e, ok := r.byID[id]; ok && e.conn.IsOpen() {
			conns = append(conns, e.conn)
		}
		return false
	})
	return conns
}

// Owners returns every owner with at least one registered connection.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]string, 0, len(r.byOwner))
	for _, ids := range r.byOwner {
		ids.Each(func(id string) bool {
			if e, ok := r.byID[id]; ok {
				owners = append(owners, e.owner)
				return true
			}
			return false
		})
	}
	return owners
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// Close drops every registration and tears down the underlying transports.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, e := range r.byID {
		conns = append(conns, e.conn)
	}
	r.byID = make(map[string]entry)
	r.byConn = make(map[*Connection]string)
	r.byOwner = make(map[string]mapset.Set[string])
	r.mu.Unlock()

	for _, conn := range conns {
		r.metrics.ConnectionClosed()
		conn.Teardown()
	}

	r.logger.Info(logging.Registry, logging.Shutdown, "registry closed", map[logging.ExtraKey]any{
		"connections": len(conns),
	})
}
