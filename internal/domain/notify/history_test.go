package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func withHistory(hs HistoryStore) func(*Options) {
	return func(o *Options) { o.History = hs }
}

func storedGroup(id GroupID, dialog DialogID, date int32, total int32) StoredGroup {
	return StoredGroup{Key: GroupKey{Group: id, Dialog: dialog, Date: date}, Type: GroupMessages, TotalCount: total}
}

func TestStartLoadsWindowFromHistory(t *testing.T) {
	t.Parallel()

	hs := &fakeHistory{
		groups: []StoredGroup{storedGroup(7, 70, unix(-100), 3)},
		notifications: map[GroupID][]Notification{
			7: {msgNote(1, 11, unix(-300)), msgNote(2, 12, unix(-200)), msgNote(3, 13, unix(-100))},
		},
	}
	h := newHarness(t, withHistory(hs))
	h.m.Start()
	h.exec.drain(h.m)
	h.settle()

	got := h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, GroupID(7), got[0].group)
	u := got[0].updates
	require.Len(t, u, 1)
	require.True(t, u[0].Silent, "history is restored without sound")
	require.Equal(t, int32(3), u[0].TotalCount)
	require.Equal(t, []NotificationID{1, 2, 3}, ids(u[0].Added))

	st, ok := h.group(7)
	require.True(t, ok)
	require.Equal(t, GroupKey{Group: 7, Dialog: 70, Date: unix(-100)}, st.Key)
}

func TestGroupPagesFollowWindowGrowth(t *testing.T) {
	t.Parallel()

	hs := &fakeHistory{
		groups: []StoredGroup{
			storedGroup(1, 10, unix(-30), 1),
			storedGroup(2, 20, unix(-20), 1),
			storedGroup(3, 30, unix(-10), 1),
		},
		notifications: map[GroupID][]Notification{
			1: {msgNote(1, 100, unix(-30))},
			2: {msgNote(2, 200, unix(-20))},
			3: {msgNote(3, 300, unix(-10))},
		},
	}
	h := newHarness(t, withHistory(hs), withSettings(2, 10))
	h.m.Start()
	h.exec.drain(h.m)

	var window []GroupID
	for _, st := range h.m.Snapshot() {
		window = append(window, st.Key.Group)
	}
	require.Equal(t, []GroupID{3, 2}, window)

	h.m.SetMaxGroupCount(3)
	h.exec.drain(h.m)
	h.settle()

	st, ok := h.group(1)
	require.True(t, ok, "the next page is requested after the last loaded key")
	require.Equal(t, []NotificationID{1}, st.Shown)
}

func TestMaterializeAddsStoredCount(t *testing.T) {
	t.Parallel()

	hs := &fakeHistory{
		groups: []StoredGroup{storedGroup(7, 70, unix(-100), 5)},
		notifications: map[GroupID][]Notification{
			7: {
				msgNote(1, 11, unix(-500)), msgNote(2, 12, unix(-400)), msgNote(3, 13, unix(-300)),
				msgNote(4, 14, unix(-200)), msgNote(5, 15, unix(-100)),
			},
		},
	}
	h := newHarness(t, withHistory(hs))
	h.add(7, 70, 10, 1000, unix(0))
	h.settle()
	got := h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, int32(1), got[0].updates[0].TotalCount)

	h.m.onGroupLoaded(7, 999, StoredGroup{TotalCount: 100}, nil)
	h.exec.drain(h.m)
	h.settle()

	st, ok := h.group(7)
	require.True(t, ok)
	require.Equal(t, int32(6), st.TotalCount, "a stale load result is ignored")
	require.Equal(t, []NotificationID{1, 2, 3, 4, 5, 10}, st.Notifications)

	got = h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, []NotificationID{1, 2, 3, 4, 5}, ids(got[0].updates[0].Added))
	require.Equal(t, int32(6), got[0].updates[0].TotalCount)
}

func TestHistoryFailureLeavesEngineUsable(t *testing.T) {
	t.Parallel()

	hs := &fakeHistory{err: errors.New("database is locked")}
	h := newHarness(t, withHistory(hs))
	h.m.Start()
	h.exec.drain(h.m)
	require.Empty(t, h.m.Snapshot())
	require.NoError(t, h.m.Err())

	h.add(1, 10, 1, 101, unix(0))
	h.exec.drain(h.m)
	h.settle()
	got := h.consumer.take()
	require.Len(t, got, 1)
	require.Equal(t, []NotificationID{1}, ids(got[0].updates[0].Added))
}
