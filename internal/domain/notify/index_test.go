package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupKeyOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b GroupKey
		want bool
	}{
		{"newerDateFirst", GroupKey{Group: 1, Dialog: 1, Date: 20}, GroupKey{Group: 2, Dialog: 2, Date: 10}, true},
		{"olderDateLast", GroupKey{Group: 1, Dialog: 1, Date: 10}, GroupKey{Group: 2, Dialog: 2, Date: 20}, false},
		{"greaterDialogFirst", GroupKey{Group: 1, Dialog: 5, Date: 10}, GroupKey{Group: 2, Dialog: 3, Date: 10}, true},
		{"greaterGroupFirst", GroupKey{Group: 4, Dialog: 3, Date: 10}, GroupKey{Group: 2, Dialog: 3, Date: 10}, true},
		{"equalIsNotLess", GroupKey{Group: 4, Dialog: 3, Date: 10}, GroupKey{Group: 4, Dialog: 3, Date: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.a.Less(tc.b))
		})
	}
}

func TestGroupIndexWindow(t *testing.T) {
	t.Parallel()

	x := newGroupIndex()
	a := &group{key: GroupKey{Group: 1, Dialog: 1, Date: 10}}
	b := &group{key: GroupKey{Group: 2, Dialog: 2, Date: 30}}
	c := &group{key: GroupKey{Group: 3, Dialog: 3, Date: 20}}
	empty := &group{key: GroupKey{Group: 4, Dialog: 4}}
	for _, g := range []*group{a, b, c, empty} {
		x.upsert(g)
	}

	require.Equal(t, []GroupID{2, 3}, x.window(2))
	require.Equal(t, []GroupID{2, 3, 1}, x.window(10), "groups without a date are never visible")
	require.True(t, x.visible(c, 2))
	require.False(t, x.visible(a, 2))
	require.False(t, x.visible(empty, 10))

	require.True(t, x.reposition(a, 40))
	require.Equal(t, []GroupID{1, 2}, x.window(2))
	require.False(t, x.visible(c, 2))
	require.False(t, x.reposition(a, 40))

	x.delete(2)
	require.Equal(t, []GroupID{1, 3}, x.window(2))
	require.Nil(t, x.get(2))
	require.Equal(t, 3, x.len())
}

func TestGroupCurrentDate(t *testing.T) {
	t.Parallel()

	g := &group{storedDate: 50}
	require.Equal(t, int32(50), g.currentDate(), "stored date stands in for an unloaded empty cache")

	g.loaded = true
	require.Equal(t, int32(0), g.currentDate())

	g.notifications = []Notification{msgNote(1, 1, 70), msgNote(2, 2, 60)}
	require.Equal(t, int32(70), g.currentDate())
}
