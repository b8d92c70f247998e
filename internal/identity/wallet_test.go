package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletConnectDisconnect(t *testing.T) {
	w := NewWallet()
	assert.False(t, w.IsConnected())

	var seen []string
	unregister := w.OnChange(func(a string) { seen = append(seen, a) })

	require.ErrorIs(t, w.Connect("  "), ErrEmptyAddress)
	require.NoError(t, w.Connect(" 0xABC "))
	assert.True(t, w.IsConnected())
	assert.Equal(t, "0xABC", w.Address())

	// Same address in another case is not a change.
	require.NoError(t, w.Connect("0xabc"))
	w.Disconnect()
	w.Disconnect()
	assert.Equal(t, []string{"0xABC", ""}, seen)

	unregister()
	require.NoError(t, w.Connect("0xDEF"))
	assert.Len(t, seen, 2)
}
