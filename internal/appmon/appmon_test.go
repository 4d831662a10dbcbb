package appmon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForegroundToggle(t *testing.T) {
	m := New()
	require.False(t, m.IsForeground(1000))

	m.SetForeground(1000, true)
	require.True(t, m.IsForeground(1000))

	m.SetForeground(1000, false)
	require.False(t, m.IsForeground(1000))
}

func TestTerminatedPid(t *testing.T) {
	m := New()
	require.False(t, m.IsTerminated(42))

	m.NotifyTerminated(42)
	require.True(t, m.IsTerminated(42))

	m.ClearTerminated(42)
	require.False(t, m.IsTerminated(42))
}

func TestAccountActive(t *testing.T) {
	m := New()
	require.False(t, m.IsAccountActive(1000, "acct-a"))

	m.SetAccountActive(1000, "acct-a", true)
	require.True(t, m.IsAccountActive(1000, "acct-a"))
	require.False(t, m.IsAccountActive(1000, "acct-b"))

	m.SetAccountActive(1000, "acct-a", false)
	require.False(t, m.IsAccountActive(1000, "acct-a"))
}
