package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func groupUpdate(total int32, silent bool, added []Notification, removed ...NotificationID) Update {
	return Update{
		Kind:           UpdateGroup,
		Group:          1,
		Type:           GroupMessages,
		Dialog:         10,
		SettingsDialog: 10,
		Silent:         silent,
		TotalCount:     total,
		Added:          added,
		Removed:        removed,
	}
}

func editUpdate(n Notification) Update {
	return Update{Kind: UpdateEdit, Group: 1, Type: GroupMessages, Dialog: 10, Notification: n}
}

func TestCompact(t *testing.T) {
	t.Parallel()

	n1 := msgNote(1, 101, 1000)
	n2 := msgNote(2, 102, 1001)
	n1b := Notification{ID: 1, Date: 1000, Payload: MessagePayload{Message: 101, ShowPreview: true}}

	cases := []struct {
		name   string
		in     []Update
		hidden bool
		empty  bool
		want   []Update
	}{
		{
			name: "addThenRemoveCancelsOut",
			in: []Update{
				groupUpdate(3, false, []Notification{n1}),
				groupUpdate(2, true, nil, 1),
			},
			want: []Update{groupUpdate(2, true, nil)},
		},
		{
			name: "adjacentAddsMerge",
			in: []Update{
				groupUpdate(1, false, []Notification{n1}),
				groupUpdate(2, false, []Notification{n2}),
			},
			want: []Update{groupUpdate(2, false, []Notification{n1, n2})},
		},
		{
			name: "removalOfUndeliveredIsDropped",
			in: []Update{
				groupUpdate(1, false, []Notification{n1}),
				groupUpdate(0, true, nil, 1),
				groupUpdate(1, false, []Notification{n2}),
			},
			want: []Update{groupUpdate(1, false, []Notification{n2})},
		},
		{
			name: "duplicateDeletionIsDropped",
			in: []Update{
				groupUpdate(4, true, nil, 1),
				groupUpdate(3, true, nil, 1),
			},
			want: []Update{groupUpdate(3, true, nil, 1)},
		},
		{
			name: "editFoldsIntoAdd",
			in: []Update{
				groupUpdate(1, false, []Notification{n1}),
				editUpdate(n1b),
			},
			want: []Update{groupUpdate(1, false, []Notification{n1b})},
		},
		{
			name: "editsCollapse",
			in: []Update{
				editUpdate(n1),
				editUpdate(n1b),
			},
			want: []Update{editUpdate(n1b)},
		},
		{
			name: "editOfRemovedIsDropped",
			in: []Update{
				editUpdate(n1b),
				groupUpdate(0, true, nil, 1),
			},
			want: []Update{groupUpdate(0, true, nil, 1)},
		},
		{
			name: "removalHoistsIntoFirstGroupUpdate",
			in: []Update{
				groupUpdate(2, false, []Notification{n2}),
				groupUpdate(1, true, nil, 1),
			},
			want: []Update{{
				Kind:           UpdateGroup,
				Group:          1,
				Type:           GroupMessages,
				Dialog:         10,
				SettingsDialog: 10,
				TotalCount:     1,
				Added:          []Notification{n2},
				Removed:        []NotificationID{1},
			}},
		},
		{
			name:   "loneCountUpdateOfHiddenGroupIsDropped",
			in:     []Update{groupUpdate(5, true, nil)},
			hidden: true,
		},
		{
			name:   "loneCountUpdateOfDeletedGroupIsKept",
			in:     []Update{groupUpdate(0, true, nil)},
			hidden: true,
			empty:  true,
			want:   []Update{groupUpdate(0, true, nil)},
		},
		{
			name: "loneCountUpdateOfVisibleGroupIsKept",
			in:   []Update{groupUpdate(7, true, nil)},
			want: []Update{groupUpdate(7, true, nil)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := compact(tc.in, tc.hidden, tc.empty)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompactDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []Update{
		groupUpdate(1, false, []Notification{msgNote(1, 101, 1000)}),
		groupUpdate(0, true, nil, 1),
	}
	compact(in, false, false)
	require.Len(t, in[0].Added, 1)
	require.Equal(t, []NotificationID{1}, in[1].Removed)
	require.False(t, in[0].Silent)
}

func TestCompactFoldsCountOnlyUpdates(t *testing.T) {
	t.Parallel()

	in := []Update{
		{Kind: UpdateGroup, Group: 1, SettingsDialog: 10, Added: []Notification{msgNote(1, 101, 1000)}},
		{Kind: UpdateGroup, Group: 1, SettingsDialog: 20, Added: []Notification{msgNote(2, 102, 1001)}},
		{Kind: UpdateGroup, Group: 1, SettingsDialog: 30, TotalCount: 2},
	}
	got := compact(in, false, false)
	require.Len(t, got, 2)
	for _, u := range got {
		require.NotEmpty(t, u.Added, "updates without additions are folded away")
		require.False(t, u.Silent)
	}
	require.Equal(t, int32(2), got[1].TotalCount)
}

func TestCompactKeepsSoundOfFirstAdd(t *testing.T) {
	t.Parallel()

	n1 := msgNote(1, 101, 1000)
	n1b := Notification{ID: 1, Date: 1000, Payload: MessagePayload{Message: 101, ShowPreview: true}}

	for _, firstSilent := range []bool{false, true} {
		in := []Update{
			groupUpdate(1, firstSilent, []Notification{n1}),
			groupUpdate(0, true, nil, 1),
			groupUpdate(1, !firstSilent, []Notification{n1b}),
		}
		got := compact(in, false, false)
		require.Equal(t, []Update{groupUpdate(1, firstSilent, []Notification{n1b})}, got,
			"first silent=%v", firstSilent)
	}
}
