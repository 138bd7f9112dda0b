// Package presence tracks which users currently hold a live realtime connection.
package presence

import (
	"sync"
)

// Notifier is told about every presence change. Notifiers run after the
// registry lock is released, so they may call back into the registry.
type Notifier interface {
	PresenceChanged(userID, handle string, online bool)
}

type NotifierFunc func(userID, handle string, online bool)

func (f NotifierFunc) PresenceChanged(userID, handle string, online bool) { f(userID, handle, online) }

// Registry maps a user to exactly one connection handle. The primary index is
// handle -> user so a closing connection is resolved without scanning.
type Registry struct {
	mu        sync.RWMutex
	byHandle  map[string]string
	byUser    map[string]string
	notifiers []Notifier
}

func NewRegistry(notifiers ...Notifier) *Registry {
	return &Registry{
		byHandle:  make(map[string]string),
		byUser:    make(map[string]string),
		notifiers: notifiers,
	}
}

// AddNotifier must be called before the registry is shared between goroutines.
func (r *Registry) AddNotifier(n Notifier) {
	r.notifiers = append(r.notifiers, n)
}

// MarkOnline binds userID to handle, replacing any previous handle of that
// user. A handle that was announcing another user is rebound.
func (r *Registry) MarkOnline(userID, handle string) {
	if userID == "" || handle == "" {
		return
	}
	r.mu.Lock()
	if prevHandle, ok := r.byUser[userID]; ok && prevHandle != handle {
		delete(r.byHandle, prevHandle)
	}
	var evicted string
	if prevUser, ok := r.byHandle[handle]; ok && prevUser != userID {
		if r.byUser[prevUser] == handle {
			delete(r.byUser, prevUser)
			evicted = prevUser
		}
	}
	r.byHandle[handle] = userID
	r.byUser[userID] = handle
	r.mu.Unlock()

	if evicted != "" {
		r.notify(evicted, handle, false)
	}
	r.notify(userID, handle, true)
}

// MarkOffline removes the entry owned by handle. It returns the user that went
// offline, or "" when handle is unknown or was already superseded by a newer
// connection of the same user.
func (r *Registry) MarkOffline(handle string) string {
	r.mu.Lock()
	userID, ok := r.byHandle[handle]
	if !ok {
		r.mu.Unlock()
		return ""
	}
	delete(r.byHandle, handle)
	if r.byUser[userID] != handle {
		r.mu.Unlock()
		return ""
	}
	delete(r.byUser, userID)
	r.mu.Unlock()

	r.notify(userID, handle, false)
	return userID
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Handle returns the current connection handle of userID.
func (r *Registry) Handle(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUser[userID]
	return h, ok
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) notify(userID, handle string, online bool) {
	for _, n := range r.notifiers {
		n.PresenceChanged(userID, handle, online)
	}
}
