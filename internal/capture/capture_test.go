package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource replays frames, then returns end (or poll timeouts when end is nil).
type fakeSource struct {
	frames [][]byte
	end    error
	closed bool
}

func (s *fakeSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if len(s.frames) == 0 {
		if s.end != nil {
			return nil, gopacket.CaptureInfo{}, s.end
		}
		time.Sleep(time.Millisecond)
		return nil, gopacket.CaptureInfo{}, errPollTimeout
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(f), Length: len(f)}, nil
}

func (s *fakeSource) Close() { s.closed = true }

func newPcap(t *testing.T) (*bytes.Buffer, *pcapgo.Writer) {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	return &buf, w
}

func countFrames(t *testing.T, buf *bytes.Buffer) int {
	t.Helper()
	r, err := pcapgo.NewReader(buf)
	require.NoError(t, err)
	n := 0
	for {
		_, _, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestRecord(t *testing.T) {
	frame := udpFrame(t, 1234, 15441, 0)
	five := func() [][]byte { return [][]byte{frame, frame, frame, frame, frame} }

	tests := []struct {
		name    string
		src     *fakeSource
		lim     Limits
		want    int
		wantErr bool
	}{
		{name: "until eof", src: &fakeSource{frames: five(), end: io.EOF}, want: 5},
		{name: "count limit", src: &fakeSource{frames: five(), end: io.EOF}, lim: Limits{Count: 3}, want: 3},
		{name: "duration limit", src: &fakeSource{frames: five()}, lim: Limits{Duration: 50 * time.Millisecond}, want: 5},
		{name: "read error", src: &fakeSource{frames: five()[:2], end: errors.New("interface down")}, want: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, w := newPcap(t)
			n, err := Record(context.Background(), tt.src, w, "lo", tt.lim)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, n)
			assert.Equal(t, tt.want, countFrames(t, buf))
		})
	}
}

func TestRecordStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, w := newPcap(t)
	start := time.Now()
	n, err := Record(ctx, &fakeSource{}, w, "lo", Limits{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), 2*time.Second)
}
