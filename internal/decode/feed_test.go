package decode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodec queues pictures per packet and refuses input while more than
// capacity pictures are waiting.
type fakeCodec struct {
	capacity int
	perPkt   int
	ready    []int
	sent     []byte
	newest   int
	recvErr  error
}

func (f *fakeCodec) send(data []byte) error {
	if len(f.ready) >= f.capacity {
		return errFull
	}
	f.sent = append(f.sent, data[0])
	for i := 0; i < f.perPkt; i++ {
		f.ready = append(f.ready, int(data[0])*10+i)
	}
	return nil
}

func (f *fakeCodec) receive() (bool, error) {
	if f.recvErr != nil {
		return false, f.recvErr
	}
	if len(f.ready) == 0 {
		return false, nil
	}
	f.newest, f.ready = f.ready[0], f.ready[1:]
	return true, nil
}

func TestFeedTakesEveryReadyPicture(t *testing.T) {
	c := &fakeCodec{capacity: 8, perPkt: 3}
	got, err := feed(c, []byte{1})
	require.NoError(t, err)
	assert.True(t, got)
	assert.Empty(t, c.ready)
	assert.Equal(t, 12, c.newest)
}

func TestFeedDrainsFullDecoderAndResends(t *testing.T) {
	c := &fakeCodec{capacity: 2, perPkt: 1, ready: []int{70, 71}}
	got, err := feed(c, []byte{5})
	require.NoError(t, err)
	assert.True(t, got)
	// the packet was not dropped
	assert.Equal(t, []byte{5}, c.sent)
	assert.Equal(t, 50, c.newest)
	assert.Empty(t, c.ready)
}

func TestFeedNeedsMoreInput(t *testing.T) {
	c := &fakeCodec{capacity: 2}
	got, err := feed(c, []byte{1})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestFeedFullWithoutPictureFails(t *testing.T) {
	c := &fakeCodec{capacity: 0}
	_, err := feed(c, []byte{1})
	assert.Error(t, err)
	assert.Empty(t, c.sent)
}

func TestFeedReceiveError(t *testing.T) {
	c := &fakeCodec{capacity: 2, perPkt: 1, recvErr: errors.New("corrupt")}
	_, err := feed(c, []byte{1})
	assert.EqualError(t, err, "corrupt")
}
