// Package identity is the host's Auth Context: it owns the currently signed-in
// native account and notifies subscribers when it changes.
package identity

import (
	"sort"
	"sync"
)

// Identity is a signed-in native account. FID > 0 means the account was
// authenticated against the social network; FID == 0 means it only exists
// locally on this host.
type Identity struct {
	FID           int64
	Username      string
	DisplayName   string
	PfpURL        string
	BackendUserID string
	WalletAddress string
}

// External reports whether the identity carries a positive network id.
func (i *Identity) External() bool {
	return i != nil && i.FID > 0
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

// Accessor returns the current identity snapshot, or nil when signed out.
type Accessor func() *Identity

// Listener is invoked with the new identity (nil on sign-out).
type Listener func(*Identity)

// Context holds the current identity.
type Context struct {
	mu        sync.RWMutex
	current   *Identity
	listeners map[int]Listener
	nextID    int
}

// NewContext creates an Auth Context with an optional initial identity.
func NewContext(initial *Identity) *Context {
	return &Context{
		current:   initial.clone(),
		listeners: make(map[int]Listener),
	}
}

// Current returns a copy of the current identity.
func (c *Context) Current() *Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.clone()
}

// Accessor returns a read-only accessor bound to c.
func (c *Context) Accessor() Accessor {
	return c.Current
}

// Set replaces the current identity and notifies listeners. Setting an
// identity equal to the current one does not notify.
func (c *Context) Set(id *Identity) {
	c.mu.Lock()
	if equal(c.current, id) {
		c.mu.Unlock()
		return
	}
	c.current = id.clone()
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	for _, l := range listeners {
		l(id.clone())
	}
}

// Clear signs the user out.
func (c *Context) Clear() { c.Set(nil) }

// Subscribe registers l and returns a function that removes it.
func (c *Context) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// snapshotListeners must be called with c.mu held.
func (c *Context) snapshotListeners() []Listener {
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}

func equal(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
