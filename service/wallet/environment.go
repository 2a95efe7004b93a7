package wallet

import (
	"sync"
)

// StaticEnvironment is an in-process set of injected providers.
type StaticEnvironment struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewStaticEnvironment creates an empty environment.
func NewStaticEnvironment() *StaticEnvironment {
	return &StaticEnvironment{providers: make(map[string]Provider)}
}

// Inject places p at global, replacing whatever was there.
func (e *StaticEnvironment) Inject(global string, p Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[global] = p
}

// Remove deletes the provider at global.
func (e *StaticEnvironment) Remove(global string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.providers, global)
}

func (e *StaticEnvironment) Lookup(global string) (Provider, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.providers[global]
	return p, ok
}

// Environments searches each environment in order and returns the first hit.
type Environments []Environment

func (es Environments) Lookup(global string) (Provider, bool) {
	return es.Find(global, func(Provider) bool { return true })
}

// Find returns the first provider at global that satisfies match. An
// environment whose provider does not match is skipped, so a wallet that
// claimed a shared global in one environment does not hide the owner in a
// later one.
func (es Environments) Find(global string, match func(Provider) bool) (Provider, bool) {
	for _, e := range es {
		if e == nil {
			continue
		}
		if p, ok := find(e, global, match); ok {
			return p, true
		}
	}
	return nil, false
}

// finder is implemented by environments that can keep searching past a
// provider that does not match.
type finder interface {
	Find(global string, match func(Provider) bool) (Provider, bool)
}

func find(env Environment, global string, match func(Provider) bool) (Provider, bool) {
	if f, ok := env.(finder); ok {
		return f.Find(global, match)
	}
	p, ok := env.Lookup(global)
	if ok && p != nil && match(p) {
		return p, true
	}
	return nil, false
}

// InjectionGlobal returns the primary global path for kind.
func InjectionGlobal(kind Kind) (string, bool) {
	d, ok := lookupDescriptor(kind)
	if !ok {
		return "", false
	}
	return d.global, true
}

// Marker returns the marker property name for kind.
func Marker(kind Kind) (string, bool) {
	d, ok := lookupDescriptor(kind)
	if !ok {
		return "", false
	}
	return d.marker, true
}
