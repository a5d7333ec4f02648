package l2cap

import (
	"testing"

	"github.com/rigado/a2dp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeDelivers(t *testing.T) {
	a, b := Pipe(a2dp.PSMAVDTP, 48)

	rx, err := b.Subscribe()
	require.NoError(t, err)

	msg := []byte{0x01, 0x02, 0x03}
	require.NoError(t, a.Send(msg))
	msg[0] = 0xff

	assert.Equal(t, []byte{0x01, 0x02, 0x03}, <-rx)
	assert.Equal(t, a2dp.PSMAVDTP, b.Info().PSM)
	assert.Equal(t, 48, b.Info().TxMTU)
}

func TestPipeMTU(t *testing.T) {
	a, _ := Pipe(a2dp.PSMSDP, 4)
	err := a.Send(make([]byte, 5))
	assert.True(t, a2dp.Is(err, a2dp.ErrBadRequest), "got %v", err)
}

func TestPipeSingleSubscriber(t *testing.T) {
	a, _ := Pipe(a2dp.PSMSDP, 48)
	_, err := a.Subscribe()
	require.NoError(t, err)
	_, err = a.Subscribe()
	assert.Equal(t, a2dp.ErrAlreadyConnected, err)
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe(a2dp.PSMSDP, 48)
	rxa, _ := a.Subscribe()
	rxb, _ := b.Subscribe()

	require.NoError(t, a.Close())

	_, ok := <-rxa
	assert.False(t, ok)
	_, ok = <-rxb
	assert.False(t, ok)

	assert.Equal(t, a2dp.ErrClosed, a.Send([]byte{1}))
	assert.Equal(t, a2dp.ErrClosed, b.Send([]byte{1}))
}
