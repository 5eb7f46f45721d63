package sqlitehistory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chat-notifications/internal/domain/notify"
)

type countingConsumer struct {
	batches int
	pending [][2]bool
}

func (c *countingConsumer) ApplyUpdates(notify.GroupID, []notify.Update) { c.batches++ }
func (c *countingConsumer) SetPendingState(d, u bool) {
	c.pending = append(c.pending, [2]bool{d, u})
}

func TestRecorderArchivesShownNotifications(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	next := &countingConsumer{}
	r := NewRecorder(s, next)
	go r.Run()

	push := notify.Notification{ID: 9, Date: 1009, Payload: notify.PushMessagePayload{Message: 109}}
	r.ApplyUpdates(1, []notify.Update{{
		Kind: notify.UpdateGroup, Group: 1, Type: notify.GroupMessages, Dialog: 10,
		TotalCount: 7, Added: []notify.Notification{msg(1, 101, 1001), msg(2, 102, 1002), push},
	}})
	r.ApplyUpdates(1, []notify.Update{{
		Kind: notify.UpdateEdit, Group: 1, Type: notify.GroupMessages, Dialog: 10,
		Notification: notify.Notification{ID: 2, Date: 1002, Payload: notify.MessagePayload{Message: 102, ShowPreview: true}},
	}})
	r.ApplyUpdates(5, []notify.Update{{
		Kind: notify.UpdateGroup, Group: 5, Type: notify.GroupCalls, Dialog: 50, TotalCount: 1,
		Added: []notify.Notification{{ID: 3, Date: 1100, Payload: notify.CallPayload{CallID: 1}}},
	}})
	r.SetPendingState(true, false)
	r.Close()
	r.ApplyUpdates(1, nil)

	require.Equal(t, 4, next.batches)
	require.Equal(t, [][2]bool{{true, false}}, next.pending)

	g, err := s.LoadGroup(t.Context(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(7), g.TotalCount, "the engine count overrides the archive count")
	require.Equal(t, int32(1002), g.Key.Date)

	page, err := s.PageNotifications(t.Context(), 1, 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2, "pushes are not archived")
	require.Equal(t, notify.MessagePayload{Message: 102, ShowPreview: true}, page[0].Payload)

	_, err = s.LoadGroup(t.Context(), 5)
	require.ErrorIs(t, err, notify.ErrGroupNotFound)
}

func TestRecorderKeepsTotalWhenGroupLeavesWindow(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	r := NewRecorder(s, &countingConsumer{})
	go r.Run()

	r.ApplyUpdates(1, []notify.Update{{
		Kind: notify.UpdateGroup, Group: 1, Type: notify.GroupMessages, Dialog: 10,
		TotalCount: 7, Added: []notify.Notification{msg(1, 101, 1001)},
	}})
	r.ApplyUpdates(1, []notify.Update{{
		Kind: notify.UpdateGroup, Group: 1, Type: notify.GroupMessages, Dialog: 10,
		TotalCount: 0, Removed: []notify.NotificationID{1},
	}})
	r.Close()

	g, err := s.LoadGroup(t.Context(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(7), g.TotalCount)

	page, err := s.PageGroups(t.Context(), notify.GroupKey{}, 10)
	require.NoError(t, err)
	require.Len(t, page, 1, "a hidden group is still paged back into the window")
}
