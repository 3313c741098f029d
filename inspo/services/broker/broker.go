// Package broker fans out chat events to the live subscribers of a session.
// It holds no history: a subscriber that misses events reads them back from the store.
package broker

import (
	"sync"

	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber is one live connection. Deliver must not block; it returns false when
// the subscriber is gone or cannot keep up, and the broker then drops it.
type Subscriber interface {
	ID() string
	Deliver(ev types.Event) bool
	Close()
}

type Broker struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[Subscriber]struct{}
	owner    map[Subscriber]uuid.UUID
}

func New() *Broker {
	return &Broker{
		sessions: make(map[uuid.UUID]map[Subscriber]struct{}),
		owner:    make(map[Subscriber]uuid.UUID),
	}
}

// Subscribe attaches sub to a session. A subscriber belongs to one session at a time;
// subscribing it elsewhere moves it.
func (b *Broker) Subscribe(sessionID uuid.UUID, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.owner[sub]; ok {
		if prev == sessionID {
			return
		}
		b.detach(prev, sub)
	}
	subs := b.sessions[sessionID]
	if subs == nil {
		subs = make(map[Subscriber]struct{})
		b.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	b.owner[sub] = sessionID
}

// Unsubscribe is safe to call any number of times.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sessionID, ok := b.owner[sub]; ok {
		b.detach(sessionID, sub)
	}
}

func (b *Broker) detach(sessionID uuid.UUID, sub Subscriber) {
	delete(b.owner, sub)
	if subs, ok := b.sessions[sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.sessions, sessionID)
		}
	}
}

// Publish delivers ev to every current subscriber of the session and returns how many
// accepted it. Subscribers that refuse are unsubscribed and closed.
func (b *Broker) Publish(sessionID uuid.UUID, ev types.Event) int {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.sessions[sessionID]))
	for sub := range b.sessions[sessionID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(ev) {
			delivered++
			continue
		}
		logging.AppLogger.Warn("dropping slow or closed subscriber",
			zap.String("session_id", sessionID.String()),
			zap.String("subscriber", sub.ID()))
		b.Unsubscribe(sub)
		sub.Close()
	}
	return delivered
}

// Count returns the number of live subscribers of a session.
func (b *Broker) Count(sessionID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// CloseSession detaches and closes every subscriber of a session.
func (b *Broker) CloseSession(sessionID uuid.UUID) {
	b.mu.Lock()
	subs := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	for sub := range subs {
		delete(b.owner, sub)
	}
	b.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
}
