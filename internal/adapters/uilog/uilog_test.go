package uilog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/pr"
)

func added(ids ...notify.NotificationID) []notify.Notification {
	out := make([]notify.Notification, 0, len(ids))
	for _, id := range ids {
		out = append(out, notify.Notification{ID: id, Payload: notify.MessagePayload{Message: notify.MessageID(id) * 10}})
	}
	return out
}

func TestConsoleMirrorsGroups(t *testing.T) {
	var out bytes.Buffer
	pr.SetWriters(&out, &out)
	t.Cleanup(func() { pr.SetWriters(nil, nil) })

	c := New()
	c.ApplyUpdates(4, []notify.Update{{
		Kind: notify.UpdateGroup, Group: 4, Type: notify.GroupMessages, Dialog: 10,
		TotalCount: 3, Added: added(3, 1, 2),
	}})
	require.Equal(t, []notify.NotificationID{1, 2, 3}, c.Shown(4))
	require.Equal(t, int32(3), c.Total(4))

	c.ApplyUpdates(4, []notify.Update{
		{Kind: notify.UpdateGroup, Group: 4, Type: notify.GroupMessages, Dialog: 10, TotalCount: 2, Removed: []notify.NotificationID{1}},
		{Kind: notify.UpdateEdit, Group: 4, Notification: added(2)[0]},
	})
	require.Equal(t, []notify.NotificationID{2, 3}, c.Shown(4))

	c.ApplyUpdates(4, []notify.Update{{
		Kind: notify.UpdateGroup, Group: 4, Type: notify.GroupMessages, Dialog: 10,
		Silent: true, Removed: []notify.NotificationID{2, 3},
	}})
	require.Empty(t, c.Shown(4))
	require.Zero(t, c.Total(4))

	require.Contains(t, out.String(), "[group 4 messages dialog 10] +3 -0 total 3\n")
	require.Contains(t, out.String(), "[group 4] ~2 message\n")
	require.Contains(t, out.String(), "+0 -2 total 0 silent\n")
}

func TestConsolePendingState(t *testing.T) {
	t.Parallel()

	c := New()
	c.SetPendingState(true, false)
	delayed, unreceived := c.Pending()
	require.True(t, delayed)
	require.False(t, unreceived)
}
