package notify

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type memCounters struct {
	state   Counters
	saves   int
	loadErr error
	saveErr error
}

func (s *memCounters) Load() (Counters, error) { return s.state, s.loadErr }

func (s *memCounters) Save(c Counters) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.state = c
	return nil
}

func TestAllocatorReservesBlocks(t *testing.T) {
	t.Parallel()

	store := &memCounters{}
	a, err := NewAllocator(store)
	require.NoError(t, err)

	for want := NotificationID(1); want <= 5; want++ {
		got, err := a.NextNotificationID()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, 1, store.saves, "one save covers the whole block")
	require.Equal(t, NotificationID(1+idReserveStep), store.state.ReservedNotificationID)

	g, err := a.NextGroupID()
	require.NoError(t, err)
	require.Equal(t, GroupID(1), g)
	require.Equal(t, 2, store.saves)
}

func TestAllocatorResumesAfterReservedBound(t *testing.T) {
	t.Parallel()

	store := &memCounters{state: Counters{
		NotificationID:         7,
		ReservedNotificationID: 1007,
		GroupID:                3,
		ReservedGroupID:        1003,
		CallGroups:             []GroupID{2},
	}}
	a, err := NewAllocator(store)
	require.NoError(t, err)

	id, err := a.NextNotificationID()
	require.NoError(t, err)
	require.Equal(t, NotificationID(1008), id, "ids handed out before a crash are never reused")

	g, err := a.NextGroupID()
	require.NoError(t, err)
	require.Equal(t, GroupID(1004), g)
	require.Equal(t, []GroupID{2}, a.CallGroups())
}

func TestAllocatorCallGroupsArePersisted(t *testing.T) {
	t.Parallel()

	store := &memCounters{}
	a, err := NewAllocator(store)
	require.NoError(t, err)

	id, err := a.reserveCallGroup()
	require.NoError(t, err)
	require.Equal(t, []GroupID{id}, store.state.CallGroups)

	next, err := a.NextGroupID()
	require.NoError(t, err)
	require.NotEqual(t, id, next, "call groups share the group counter")
}

func TestAllocatorErrors(t *testing.T) {
	t.Parallel()

	_, err := NewAllocator(&memCounters{loadErr: errors.New("corrupt")})
	require.ErrorContains(t, err, "load id counters")

	a, err := NewAllocator(&memCounters{saveErr: errors.New("no space")})
	require.NoError(t, err)
	_, err = a.NextNotificationID()
	require.ErrorContains(t, err, "save id counters")

	full, err := NewAllocator(&memCounters{state: Counters{
		NotificationID:         math.MaxInt32,
		ReservedNotificationID: math.MaxInt32,
	}})
	require.NoError(t, err)
	_, err = full.NextNotificationID()
	require.ErrorIs(t, err, ErrIDSpaceExhausted)
}
