package x402gate

import "sync"

// schemeRegistry is a concurrency-safe (scheme, network) -> handler table
// shared by the client, server and facilitator registries. An exact
// network hit is a direct map lookup; wildcard matches are found by
// iterating the map, so registration order is not kept and the choice
// among several matching patterns is not defined.
type schemeRegistry[H any] struct {
	mu    sync.RWMutex
	byNet map[NetworkID]map[string]H
}

func newSchemeRegistry[H any]() *schemeRegistry[H] {
	return &schemeRegistry[H]{byNet: make(map[NetworkID]map[string]H)}
}

func (r *schemeRegistry[H]) register(network NetworkID, handler H) {
	scheme := schemeOf(handler)
	r.mu.Lock()
	defer r.mu.Unlock()
	schemes, ok := r.byNet[network]
	if !ok {
		schemes = make(map[string]H)
		r.byNet[network] = schemes
	}
	schemes[scheme] = handler
}

// resolve looks up a handler for (scheme, network) following §4.1's
// resolution order: exact network match first, then any other registered
// network pattern (concrete-as-wildcard or wildcard-as-pattern) whose
// family matches and that has the scheme; which one is returned when
// several match is not defined. Returns ok=false if nothing matches.
func (r *schemeRegistry[H]) resolve(scheme string, network NetworkID) (H, bool) {
	var zero H
	r.mu.RLock()
	defer r.mu.RUnlock()

	if schemes, exists := r.byNet[network]; exists {
		if h, ok := schemes[scheme]; ok {
			return h, true
		}
	}
	for registered, schemes := range r.byNet {
		if registered == network {
			continue // already tried as the exact match above
		}
		if network.Match(registered) {
			if h, ok := schemes[scheme]; ok {
				return h, true
			}
		}
	}
	return zero, false
}

// schemesFor returns every scheme registered for a network, using the
// same exact-then-wildcard resolution order as resolve.
func (r *schemeRegistry[H]) schemesFor(network NetworkID) map[string]H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if schemes, exists := r.byNet[network]; exists {
		return schemes
	}
	for registered, schemes := range r.byNet {
		if network.Match(registered) {
			return schemes
		}
	}
	return nil
}

// list returns every (network, scheme) pair currently registered.
func (r *schemeRegistry[H]) list() []SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]SupportedKind, 0)
	for network, schemes := range r.byNet {
		for scheme := range schemes {
			kinds = append(kinds, SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     network,
			})
		}
	}
	return kinds
}

// schemeOf extracts the scheme identifier from any of the three handler
// interfaces via a small closed type switch, so callers never have to
// pass the scheme string redundantly at registration time.
func schemeOf(h interface{}) string {
	switch v := h.(type) {
	case SchemeClientHandler:
		return v.Scheme()
	case SchemeServerHandler:
		return v.Scheme()
	case SchemeFacilitatorHandler:
		return v.Scheme()
	default:
		panic("x402gate: handler does not implement a known scheme interface")
	}
}

// ClientSchemeRegistry resolves (scheme, network) to a SchemeClientHandler.
type ClientSchemeRegistry struct{ reg *schemeRegistry[SchemeClientHandler] }

func NewClientSchemeRegistry() *ClientSchemeRegistry {
	return &ClientSchemeRegistry{reg: newSchemeRegistry[SchemeClientHandler]()}
}

func (r *ClientSchemeRegistry) Register(network NetworkID, handler SchemeClientHandler) {
	r.reg.register(network, handler)
}

func (r *ClientSchemeRegistry) Resolve(scheme string, network NetworkID) (SchemeClientHandler, bool) {
	return r.reg.resolve(scheme, network)
}

func (r *ClientSchemeRegistry) SchemesFor(network NetworkID) map[string]SchemeClientHandler {
	return r.reg.schemesFor(network)
}

// ServerSchemeRegistry resolves (scheme, network) to a SchemeServerHandler.
type ServerSchemeRegistry struct{ reg *schemeRegistry[SchemeServerHandler] }

func NewServerSchemeRegistry() *ServerSchemeRegistry {
	return &ServerSchemeRegistry{reg: newSchemeRegistry[SchemeServerHandler]()}
}

func (r *ServerSchemeRegistry) Register(network NetworkID, handler SchemeServerHandler) {
	r.reg.register(network, handler)
}

func (r *ServerSchemeRegistry) Resolve(scheme string, network NetworkID) (SchemeServerHandler, bool) {
	return r.reg.resolve(scheme, network)
}

// FacilitatorSchemeRegistry resolves (scheme, network) to a
// SchemeFacilitatorHandler.
type FacilitatorSchemeRegistry struct{ reg *schemeRegistry[SchemeFacilitatorHandler] }

func NewFacilitatorSchemeRegistry() *FacilitatorSchemeRegistry {
	return &FacilitatorSchemeRegistry{reg: newSchemeRegistry[SchemeFacilitatorHandler]()}
}

func (r *FacilitatorSchemeRegistry) Register(network NetworkID, handler SchemeFacilitatorHandler) {
	r.reg.register(network, handler)
}

func (r *FacilitatorSchemeRegistry) Resolve(scheme string, network NetworkID) (SchemeFacilitatorHandler, bool) {
	return r.reg.resolve(scheme, network)
}

func (r *FacilitatorSchemeRegistry) List() []SupportedKind {
	return r.reg.list()
}
