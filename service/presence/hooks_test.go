package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnDepartureOwnerImmunity(t *testing.T) {
	store := newFakeStore(&SessionInfo{ID: "s1", OwnerID: "owner", Participants: []string{"owner", "u1"}})
	hooks := NewLifecycleHooks(store, nil)
	ctx := context.Background()

	hooks.OnDeparture(ctx, DepartureEvent{SessionID: "s1", Identity: Identity{UserID: "owner", Username: "o"}, Disconnect: true})
	assert.Equal(t, []string{"owner", "u1"}, store.participants("s1"))

	hooks.OnDeparture(ctx, DepartureEvent{SessionID: "s1", Identity: Identity{UserID: "u1", Username: "a"}})
	assert.Equal(t, []string{"owner"}, store.participants("s1"))
}

func TestOnDepartureSkipsWhenStillPresent(t *testing.T) {
	store := newFakeStore(&SessionInfo{ID: "s1", OwnerID: "owner", Participants: []string{"u1"}})
	hooks := NewLifecycleHooks(store, nil)

	hooks.OnDeparture(context.Background(), DepartureEvent{SessionID: "s1", Identity: Identity{UserID: "u1"}, StillPresent: true})
	assert.Equal(t, []string{"u1"}, store.participants("s1"))
}

func TestOnDepartureToleratesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("mongo down")
	sink := &recordingSink{err: errors.New("kafka down")}
	hooks := NewLifecycleHooks(store, sink)

	assert.NotPanics(t, func() {
		hooks.OnDeparture(context.Background(), DepartureEvent{SessionID: "s1", Identity: Identity{UserID: "u1"}, Disconnect: true})
	})
	assert.Equal(t, []string{TransitionDisconnected}, sink.types())
}

func TestSessionInfoAccess(t *testing.T) {
	s := &SessionInfo{OwnerID: "o", Participants: []string{"p"}}
	assert.True(t, s.CanAccess("o"))
	assert.True(t, s.CanAccess("p"))
	assert.False(t, s.CanAccess("x"))
	s.IsPublic = true
	assert.True(t, s.CanAccess("x"))
}
