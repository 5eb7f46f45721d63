package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerRegistry(t *testing.T) {
	t.Parallel()

	r := newTimerRegistry()
	require.True(t, r.armEarlier(1, t0.Add(3*time.Second)))
	require.False(t, r.armEarlier(1, t0.Add(5*time.Second)), "a later deadline never postpones")
	require.True(t, r.armEarlier(1, t0.Add(time.Second)))
	r.arm(2, t0.Add(time.Second))
	r.arm(3, t0.Add(10*time.Second))

	next, ok := r.next()
	require.True(t, ok)
	require.Equal(t, t0.Add(time.Second), next)

	require.Equal(t, []GroupID{1, 2}, r.popDue(t0.Add(2*time.Second)))
	_, armed := r.armed(1)
	require.False(t, armed)

	r.cancel(3)
	_, ok = r.next()
	require.False(t, ok)
}
