package registry

import (
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/bluenviron/whipgate/internal/nonce"
)

var reEndpointID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// registry errors.
var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrEndpointExists   = errors.New("endpoint already exists")
	ErrInvalidID        = errors.New("invalid endpoint id")
)

// Registry is the in-memory store of endpoints and the
// resource id -> endpoint id reverse index.
type Registry struct {
	mutex     sync.RWMutex
	endpoints map[string]*Endpoint
	resources map[string]string
}

// Initialize initializes a Registry.
func (r *Registry) Initialize() {
	r.endpoints = make(map[string]*Endpoint)
	r.resources = make(map[string]string)
}

// Create adds an endpoint.
func (r *Registry) Create(e *Endpoint) error {
	if !reEndpointID.MatchString(e.ID) {
		return ErrInvalidID
	}

	e.FillDefaults()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.endpoints[e.ID]; ok {
		return ErrEndpointExists
	}

	r.endpoints[e.ID] = e
	return nil
}

// Get returns the endpoint with the given id.
func (r *Registry) Get(id string) (*Endpoint, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, ok := r.endpoints[id]
	return e, ok
}

// All returns every endpoint.
func (r *Registry) All() []*Endpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ret := make([]*Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		ret = append(ret, e)
	}
	return ret
}

// List returns the projection of every endpoint, sorted by id.
// Endpoints are locked one at a time, after the registry mutex has
// been released: an endpoint operation may acquire the registry
// mutex while holding the endpoint mutex, so holding both here in
// the opposite order would deadlock.
func (r *Registry) List() []Info {
	endpoints := r.All()

	ret := make([]Info, 0, len(endpoints))
	for _, e := range endpoints {
		e.Lock()
		ret = append(ret, e.info())
		e.Unlock()
	}

	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// GetInfo returns the projection of a single endpoint.
func (r *Registry) GetInfo(id string) (Info, bool) {
	r.mutex.RLock()
	e, ok := r.endpoints[id]
	r.mutex.RUnlock()

	if !ok {
		return Info{}, false
	}

	e.Lock()
	defer e.Unlock()
	return e.info(), true
}

// Destroy removes an endpoint. Tearing down its active session, if
// any, is up to the caller.
func (r *Registry) Destroy(id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}

	delete(r.endpoints, id)
	return nil
}

// ReserveResource draws an unused resource id and binds it to the
// given endpoint.
func (r *Registry) ReserveResource(endpointID string) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for {
		id := nonce.Generate()
		if _, ok := r.resources[id]; ok {
			continue
		}

		r.resources[id] = endpointID
		return id
	}
}

// ReleaseResource removes a resource id from the index.
// Releasing an unknown id is a no-op.
func (r *Registry) ReleaseResource(resourceID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.resources, resourceID)
}

// LookupByResource resolves a resource id to the owning endpoint id.
func (r *Registry) LookupByResource(resourceID string) (string, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, ok := r.resources[resourceID]
	return id, ok
}
