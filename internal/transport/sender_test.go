package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/dxb134111/roc-droid-modified/internal/capture"
	"github.com/dxb134111/roc-droid-modified/internal/sender"
)

type fakeOpener struct {
	mu    sync.Mutex
	data  []byte
	block bool
	err   error
	kinds []capture.Kind
	pipes []*io.PipeWriter
}

func (o *fakeOpener) Open(kind capture.Kind) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
	if o.err != nil {
		return nil, o.err
	}
	if o.block {
		r, w := io.Pipe()
		o.pipes = append(o.pipes, w)
		if len(o.data) > 0 {
			data := o.data
			go w.Write(data)
		}
		return r, nil
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

type testGrant struct{}

func (testGrant) ID() string { return "grant-1" }
func (testGrant) Release()   {}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func port(c *net.UDPConn) int {
	return c.LocalAddr().(*net.UDPAddr).Port
}

func readPacket(t *testing.T, c *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 2048)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err := c.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[:n]
}

func testConfig(media, control *net.UDPConn) Config {
	return Config{
		SourcePort:  port(media),
		RepairPort:  10002,
		ControlPort: port(control),
		SampleRate:  8000,
		Channels:    1,
		FrameMs:     1,
		PayloadType: 11,
	}
}

func TestStreamsL16ThenSendsBye(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)

	// One 1 ms frame of mono 8 kHz audio: 8 samples, little-endian.
	pcm := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}
	opener := &fakeOpener{data: append([]byte(nil), pcm...), block: true}
	s := New(testConfig(media, control), opener)

	if err := s.Start(sender.Destination{Input: "127.0.0.1", Host: "127.0.0.1", Literal: true}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("IsRunning = false after Start")
	}
	ssrc := s.Stats().SSRC

	var pkt rtp.Packet
	if err := pkt.Unmarshal(readPacket(t, media)); err != nil {
		t.Fatalf("rtp unmarshal: %v", err)
	}
	if pkt.PayloadType != 11 || pkt.SSRC != ssrc || pkt.Version != 2 {
		t.Fatalf("header = %+v", pkt.Header)
	}
	want := []byte{
		0x02, 0x01, 0x04, 0x03, 0x06, 0x05, 0x08, 0x07,
		0x0a, 0x09, 0x0c, 0x0b, 0x0e, 0x0d, 0x10, 0x0f,
	}
	if !bytes.Equal(pkt.Payload, want) {
		t.Fatalf("payload = %x, want %x", pkt.Payload, want)
	}
	if opener.kinds[0] != capture.Microphone {
		t.Fatalf("opened %s, want microphone", opener.kinds[0])
	}

	s.Stop()
	if s.IsRunning() {
		t.Fatal("IsRunning = true after Stop")
	}

	pkts, err := rtcp.Unmarshal(readPacket(t, control))
	if err != nil {
		t.Fatalf("rtcp unmarshal: %v", err)
	}
	bye, ok := pkts[0].(*rtcp.Goodbye)
	if !ok {
		t.Fatalf("first control packet = %T, want *rtcp.Goodbye", pkts[0])
	}
	if len(bye.Sources) != 1 || bye.Sources[0] != ssrc {
		t.Fatalf("bye sources = %v, want [%d]", bye.Sources, ssrc)
	}

	s.Stop()
}

func TestRecorderExitEndsStream(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)

	// Half a frame, then EOF: the recorder died mid-stream.
	s := New(testConfig(media, control), &fakeOpener{data: []byte{1, 2, 3, 4}})
	ended := make(chan error, 1)
	s.OnEnded(func(err error) { ended <- err })

	if err := s.Start(sender.Destination{Host: "127.0.0.1"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-ended:
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("ended with %v, want unexpected EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("end of capture was never reported")
	}
	if s.IsRunning() {
		t.Fatal("IsRunning = true after the recorder exited")
	}

	pkts, err := rtcp.Unmarshal(readPacket(t, control))
	if err != nil {
		t.Fatalf("rtcp unmarshal: %v", err)
	}
	if _, ok := pkts[0].(*rtcp.Goodbye); !ok {
		t.Fatalf("control packet = %T, want *rtcp.Goodbye", pkts[0])
	}
	s.Stop()
}

func TestStopDoesNotReportEnd(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)
	s := New(testConfig(media, control), &fakeOpener{block: true})
	ended := make(chan error, 1)
	s.OnEnded(func(err error) { ended <- err })

	if err := s.Start(sender.Destination{Host: "127.0.0.1"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()

	select {
	case err := <-ended:
		t.Fatalf("Stop reported an unexpected end: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSenderReports(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)
	cfg := testConfig(media, control)
	cfg.ReportInterval = 10 * time.Millisecond

	s := New(cfg, &fakeOpener{block: true})
	if err := s.Start(sender.Destination{Host: "127.0.0.1"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	pkts, err := rtcp.Unmarshal(readPacket(t, control))
	if err != nil {
		t.Fatalf("rtcp unmarshal: %v", err)
	}
	sr, ok := pkts[0].(*rtcp.SenderReport)
	if !ok {
		t.Fatalf("control packet = %T, want *rtcp.SenderReport", pkts[0])
	}
	if sr.SSRC != s.Stats().SSRC {
		t.Fatalf("report ssrc = %d, want %d", sr.SSRC, s.Stats().SSRC)
	}
	if sr.NTPTime>>32 < ntpEpochOffset {
		t.Fatalf("ntp seconds %d before unix epoch", sr.NTPTime>>32)
	}
}

func TestPlaybackRequiresPreStart(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)
	opener := &fakeOpener{block: true}
	s := New(testConfig(media, control), opener)
	dest := sender.Destination{Host: "127.0.0.1"}

	if err := s.Start(dest, testGrant{}); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("err = %v, want ErrNotPrepared", err)
	}
	if s.IsRunning() {
		t.Fatal("failed Start left transport running")
	}

	s.PreStart()
	if err := s.Start(dest, testGrant{}); err != nil {
		t.Fatalf("Start after PreStart: %v", err)
	}
	if opener.kinds[0] != capture.Playback {
		t.Fatalf("opened %s, want playback", opener.kinds[0])
	}
	if err := s.Start(dest, testGrant{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}

	// Stop clears the preparation.
	s.Stop()
	if err := s.Start(dest, testGrant{}); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("err after Stop = %v, want ErrNotPrepared", err)
	}
}

func TestStartRejectsBadDestination(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)
	s := New(testConfig(media, control), &fakeOpener{})

	for _, host := range []string{"999.1.1.1", "stream.example.org", ""} {
		if err := s.Start(sender.Destination{Host: host}, nil); !errors.Is(err, ErrBadDestination) {
			t.Fatalf("Start(%q) err = %v, want ErrBadDestination", host, err)
		}
	}
}

func TestStartCaptureFailureLeavesIdle(t *testing.T) {
	media, control := listenUDP(t), listenUDP(t)
	openErr := errors.New("device busy")
	s := New(testConfig(media, control), &fakeOpener{err: openErr})

	if err := s.Start(sender.Destination{Host: "127.0.0.1"}, nil); !errors.Is(err, openErr) {
		t.Fatalf("err = %v, want %v", err, openErr)
	}
	if s.IsRunning() || s.Stats().Running {
		t.Fatal("transport running after failed Start")
	}
}

func TestSwapEndian(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	swapEndian(b)
	if !bytes.Equal(b, []byte{2, 1, 4, 3, 5}) {
		t.Fatalf("swapEndian = %v", b)
	}
}
