package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreGetSetClear(t *testing.T) {
	s := NewStore(30*time.Second, 10)

	_, ok := s.Get("a")
	require.False(t, ok)

	s.Set("a", SubMenu(2))
	st, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, SubProblemMenu, st.Kind)
	require.Equal(t, 2, st.Category)
	require.Equal(t, 1, s.Len())

	s.Set("a", State{Kind: AwaitingRegistration})
	_, ok = s.Get("a")
	require.False(t, ok)

	s.Set("b", Human())
	s.Clear("b")
	require.Equal(t, 0, s.Len())
}

func TestStoresAreIsolated(t *testing.T) {
	a := NewStore(time.Second, 1)
	b := NewStore(time.Second, 1)
	a.Set("x", Menu())
	_, ok := b.Get("x")
	require.False(t, ok)
}

func TestDescribingKeepsPrevious(t *testing.T) {
	st := Describing(Feedback(7))
	require.Equal(t, DescribingProblem, st.Kind)
	require.NotNil(t, st.Previous)
	require.Equal(t, VideoFeedback, st.Previous.Kind)
	require.True(t, st.MidFlow())
	require.False(t, Menu().MidFlow())
	require.Equal(t, "describing_problem{previous=video_feedback}", st.String())
}

func TestSeenRecentlyWindow(t *testing.T) {
	s := NewStore(30*time.Second, 10)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.False(t, s.SeenRecently("a", "oi", now))
	require.True(t, s.SeenRecently("a", "oi", now.Add(10*time.Second)))
	require.False(t, s.SeenRecently("b", "oi", now.Add(10*time.Second)))
	// the repeat at +10s refreshed the window
	require.True(t, s.SeenRecently("a", "oi", now.Add(35*time.Second)))
	require.False(t, s.SeenRecently("a", "oi", now.Add(2*time.Minute)))
}

func TestSeenRecentlyHistoryCap(t *testing.T) {
	s := NewStore(time.Hour, 2)
	now := time.Now()

	require.False(t, s.SeenRecently("a", "one", now))
	require.False(t, s.SeenRecently("a", "two", now))
	require.False(t, s.SeenRecently("a", "three", now))
	require.False(t, s.SeenRecently("a", "one", now), "oldest entry was evicted by the cap")
}

func TestForgetDropsHistory(t *testing.T) {
	s := NewStore(time.Hour, 10)
	now := time.Now()
	s.Set("a", Menu())
	s.SeenRecently("a", "hello", now)
	s.Forget("a")
	_, ok := s.Get("a")
	require.False(t, ok)
	require.False(t, s.SeenRecently("a", "hello", now))
}
