package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendFrame(t *testing.T) {
	t.Run("full buffer is a failed accept", func(t *testing.T) {
		c := newConn(nil, 1, 0, 0)
		require.NoError(t, c.SendFrame([]byte("a")))
		assert.ErrorIs(t, c.SendFrame([]byte("b")), errBufferFull)
	})

	t.Run("closed connection rejects frames", func(t *testing.T) {
		c := newConn(nil, 1, 0, 0)
		c.close()
		c.close()
		assert.ErrorIs(t, c.SendFrame([]byte("a")), errConnClosed)
	})
}

func TestClientInfo(t *testing.T) {
	info := clientInfo("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.True(t, info.Mobile)
	assert.NotEmpty(t, info.Browser)

	assert.Equal(t, "", clientInfo("").Browser)
}
