package device

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
)

// fakeTransport records writes and answers every command with reply
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	reply    []byte
	pending  bool
	writeErr error
	closed   bool
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	f.pending = f.reply != nil
	return len(p), nil
}

func (f *fakeTransport) ReadWithTimeout(p []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pending {
		return 0, nil
	}
	f.pending = false
	return copy(p, f.reply), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) gotoWrites() []config.ProfileID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []config.ProfileID
	for _, w := range f.writes {
		if w[2] == cmdGotoProfile {
			ids = append(ids, config.ProfileID(binary.LittleEndian.Uint32(w[3:7])))
		}
	}
	return ids
}

// fakeOpener fails the first `failures` opens with ErrNotFound
type fakeOpener struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	transport *fakeTransport
	id        Identity
}

func (o *fakeOpener) Open() (Transport, Identity, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if o.attempts <= o.failures {
		return nil, Identity{}, ErrNotFound
	}
	return o.transport, o.id, nil
}

func infoReply() []byte {
	reply := make([]byte, InputReportSize)
	reply[0] = reportID
	reply[3], reply[4], reply[5] = 1, 2, 3
	return reply
}

func testOptions() Options {
	return Options{ReplyTimeout: 50 * time.Millisecond}
}

func TestGotoProfileReport(t *testing.T) {
	buf := gotoProfileReport(0x01020304)
	require.Len(t, buf, OutputReportSize)
	assert.Equal(t, []byte{0x05, 0x00, 0x01, 0x04, 0x03, 0x02, 0x01}, buf[:7])
	for _, b := range buf[7:] {
		assert.Zero(t, b)
	}
}

func TestParseFirmware(t *testing.T) {
	fw, ok := parseFirmware(infoReply())
	require.True(t, ok)
	assert.Equal(t, "1.2.3", fw)

	_, ok = parseFirmware([]byte{0x05, 0x00})
	assert.False(t, ok)
}

func TestConnectReadsInfo(t *testing.T) {
	tr := &fakeTransport{reply: infoReply()}
	s := NewSession(&fakeOpener{transport: tr, id: Identity{Model: "duckyPad Pro", Path: "/dev/hidraw3"}}, testOptions())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, Info{Model: "duckyPad Pro", Serial: unknown, Firmware: "1.2.3"}, s.Info())

	_, ok := s.ActiveProfile()
	assert.False(t, ok, "no profile confirmed yet")
}

func TestConnectWithoutReplyKeepsUnknownFirmware(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(&fakeOpener{transport: tr}, testOptions())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, Info{Model: unknown, Serial: unknown, Firmware: unknown}, s.Info())
}

func TestConnectNotFoundIsFatalWithoutWait(t *testing.T) {
	opener := &fakeOpener{failures: 1, transport: &fakeTransport{}}
	s := NewSession(opener, testOptions())

	err := s.Connect(context.Background())
	var derr *DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "connect", derr.Op)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, Faulted, s.State())
	assert.Equal(t, 1, opener.attempts)
}

func TestConnectRetriesWithWait(t *testing.T) {
	opener := &fakeOpener{failures: 2, transport: &fakeTransport{}}
	opts := testOptions()
	opts.Wait = 10 * time.Millisecond
	s := NewSession(opener, opts)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 3, opener.attempts)
}

func TestConnectRetryStopsOnCancel(t *testing.T) {
	opener := &fakeOpener{failures: 1 << 30}
	opts := testOptions()
	opts.Wait = 10 * time.Millisecond
	s := NewSession(opener, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Disconnected, s.State())
}

func TestSwitchProfileSuppressesRepeats(t *testing.T) {
	tr := &fakeTransport{reply: infoReply()}
	s := NewSession(&fakeOpener{transport: tr}, testOptions())
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.SwitchProfile(2))
	require.NoError(t, s.SwitchProfile(2))
	require.NoError(t, s.SwitchProfile(1))
	require.NoError(t, s.SwitchProfile(1))
	require.NoError(t, s.SwitchProfile(2))

	assert.Equal(t, []config.ProfileID{2, 1, 2}, tr.gotoWrites())
	active, ok := s.ActiveProfile()
	require.True(t, ok)
	assert.Equal(t, config.ProfileID(2), active)
}

func TestSwitchProfileBeforeConnect(t *testing.T) {
	s := NewSession(&fakeOpener{}, testOptions())
	err := s.SwitchProfile(1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSwitchProfileDeviceLost(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(&fakeOpener{transport: tr}, testOptions())
	require.NoError(t, s.Connect(context.Background()))

	tr.mu.Lock()
	tr.writeErr = errors.New("broken pipe")
	tr.mu.Unlock()

	err := s.SwitchProfile(3)
	require.Error(t, err)
	assert.True(t, IsLost(err))
	assert.Equal(t, Faulted, s.State())
	assert.Equal(t, err, s.LastError())
	assert.True(t, tr.closed)

	_, ok := s.ActiveProfile()
	assert.False(t, ok)
}

func TestReconnectForgetsActiveProfile(t *testing.T) {
	tr := &fakeTransport{}
	opts := testOptions()
	opts.Wait = 10 * time.Millisecond
	s := NewSession(&fakeOpener{transport: tr}, opts)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.SwitchProfile(4))

	require.NoError(t, s.Reconnect(context.Background()))
	assert.Equal(t, Connected, s.State())

	require.NoError(t, s.SwitchProfile(4))
	assert.Equal(t, []config.ProfileID{4, 4}, tr.gotoWrites(), "profile is resent after reconnect")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "faulted", Faulted.String())
	assert.Equal(t, "state(9)", State(9).String())
}
