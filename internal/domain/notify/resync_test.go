package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobalResyncHoldsQueues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.m.BeforeResync()
	done := h.add(1, 10, 1, 101, unix(0))
	h.settle()
	require.Empty(t, h.consumer.take(), "queues are held while resyncing")
	require.False(t, resolved(done))

	h.m.AfterResync()
	h.advance(MinNotificationDelay)

	got := h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, []NotificationID{1}, ids(got[0].updates[0].Added))
	require.True(t, resolved(done))
	require.Equal(t, [][2]bool{
		{false, true},
		{true, true},
		{true, false},
		{false, false},
	}, h.consumer.pending)
}

func TestGroupResyncIsIndependent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.m.BeforeResync()
	h.m.BeforeGroupResync(1)
	h.add(1, 10, 1, 101, unix(0))
	h.add(2, 20, 2, 201, unix(0))
	h.settle()
	require.Empty(t, h.consumer.take())

	h.m.AfterResync()
	h.advance(MinNotificationDelay)
	got := h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, GroupID(2), got[0].group, "the group under its own resync stays held")

	h.advance(MaxUpdateDelay)
	require.Empty(t, h.consumer.take())

	h.m.AfterGroupResync(1)
	h.advance(MinNotificationDelay)
	got = h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, GroupID(1), got[0].group)
	require.Equal(t, [2]bool{false, false}, h.consumer.pending[len(h.consumer.pending)-1])
}

func TestAfterResyncDropsUnconfirmedPushes(t *testing.T) {
	t.Parallel()

	journal := newMemJournal()
	h := newHarness(t, withJournal(journal))
	h.m.BeforeResync()
	h.m.BeforeGroupResync(2)

	h.m.AddPushNotification(pushRequest(1, 1, 100), nil)
	h.m.AddPushNotification(pushRequest(2, 2, 200), nil)
	h.exec.drain(h.m)
	h.advance(MinNotificationDelay)

	h.m.AfterResync()
	h.exec.drain(h.m)

	_, ok := h.group(1)
	require.False(t, ok, "an unconfirmed push is destroyed with its group")
	st, ok := h.group(2)
	require.True(t, ok, "the group still resyncing keeps its push")
	require.Equal(t, []NotificationID{2}, st.Notifications)
	require.Len(t, journal.records, 1)
	require.Len(t, journal.erased, 1)

	h.advance(MinNotificationDelay)
	for _, b := range h.consumer.take() {
		for _, u := range b.updates {
			require.NotContains(t, ids(u.Added), NotificationID(1))
		}
	}
}

func TestAfterResyncWithoutBeforeIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.m.AfterResync()
	h.m.AfterGroupResync(4)
	require.Empty(t, h.consumer.pending)
}
