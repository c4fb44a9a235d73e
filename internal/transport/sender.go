// Package transport streams captured PCM to a receiver as RTP over UDP.
//
// Audio goes out as L16 (big-endian 16-bit PCM) on the source port. A
// second socket on the control port carries RTCP sender reports and a
// BYE when the stream ends. The repair port is reserved for FEC and is
// not written to.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"

	"github.com/dxb134111/roc-droid-modified/internal/capture"
	"github.com/dxb134111/roc-droid-modified/internal/logging"
	"github.com/dxb134111/roc-droid-modified/internal/sender"
)

var log = logging.L("transport")

var (
	ErrAlreadyRunning = errors.New("transport: already running")
	ErrNotPrepared    = errors.New("transport: playback capture requires PreStart")
	ErrBadDestination = errors.New("transport: destination is not an IP address")
)

// Config describes the stream format and the receiver ports.
type Config struct {
	SourcePort     int
	RepairPort     int
	ControlPort    int
	SampleRate     int
	Channels       int
	FrameMs        int
	PayloadType    uint8
	MulticastTTL   int
	ReportInterval time.Duration
}

func (c Config) samplesPerFrame() int {
	return c.SampleRate * c.FrameMs / 1000
}

func (c Config) frameBytes() int {
	return c.samplesPerFrame() * c.Channels * 2
}

// Stats are counters for the current stream.
type Stats struct {
	Running     bool
	Destination string
	SSRC        uint32
	Packets     uint32
	Octets      uint32
}

// Sender implements sender.Transport. Start and Stop are called from the
// controller's home loop; IsRunning and Stats may be called from anywhere.
type Sender struct {
	cfg    Config
	opener capture.Opener

	mu       sync.Mutex
	prepared bool
	stream   *stream
	onEnded  func(error)
}

func New(cfg Config, opener capture.Opener) *Sender {
	return &Sender{cfg: cfg, opener: opener}
}

// OnEnded registers fn to be called, on the stream's goroutine, when a
// stream stops without Stop being called (the recorder exited or its pipe
// broke). The transport is already idle when fn runs.
func (s *Sender) OnEnded(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// PreStart marks the transport ready for a playback capture session.
func (s *Sender) PreStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = true
	log.Debug("transport prepared for playback capture")
}

// Start opens the capture source selected by grant (nil means microphone)
// and begins streaming to dest. On error nothing is left open.
func (s *Sender) Start(dest sender.Destination, grant sender.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return ErrAlreadyRunning
	}
	addr, err := netip.ParseAddr(dest.Host)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadDestination, dest.Host)
	}
	addr = addr.Unmap()

	kind := capture.Microphone
	if grant != nil {
		if !s.prepared {
			return ErrNotPrepared
		}
		kind = capture.Playback
	}

	media, err := s.dial(addr, s.cfg.SourcePort)
	if err != nil {
		return err
	}
	control, err := s.dial(addr, s.cfg.ControlPort)
	if err != nil {
		media.Close()
		return err
	}
	src, err := s.opener.Open(kind)
	if err != nil {
		media.Close()
		control.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &stream{
		cfg:     s.cfg,
		dest:    addr.String(),
		src:     src,
		media:   media,
		control: control,
		ssrc:    rand.Uint32(),
		seq:     uint16(rand.Uint32()),
		ts:      rand.Uint32(),
		cancel:  cancel,
		started: time.Now(),
	}
	if grant != nil {
		st.grantID = grant.ID()
	}
	st.wg.Add(2)
	go func() {
		if err := st.sendLoop(ctx); err != nil {
			s.ended(st, err)
		}
	}()
	go st.reportLoop(ctx)

	s.stream = st
	log.Info("stream started",
		logging.KeyDestination, st.dest,
		logging.KeySource, kind.String(),
		"sourcePort", s.cfg.SourcePort,
		"ssrc", st.ssrc,
		"grantId", st.grantID)
	return nil
}

// Stop ends the stream, sends RTCP BYE, and clears the playback
// preparation. Calling it when idle is a no-op.
func (s *Sender) Stop() {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.prepared = false
	s.mu.Unlock()

	if st == nil {
		return
	}
	st.close()
	log.Info("stream stopped",
		logging.KeyDestination, st.dest,
		"packets", st.packets.Load(),
		"octets", st.octets.Load(),
		"duration", time.Since(st.started).Round(time.Millisecond))
}

func (s *Sender) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *Sender) Stats() Stats {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return Stats{}
	}
	return Stats{
		Running:     true,
		Destination: st.dest,
		SSRC:        st.ssrc,
		Packets:     st.packets.Load(),
		Octets:      st.octets.Load(),
	}
}

// ended tears down st after its capture source failed, unless Stop
// already claimed it.
func (s *Sender) ended(st *stream, err error) {
	s.mu.Lock()
	if s.stream != st {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.prepared = false
	fn := s.onEnded
	s.mu.Unlock()

	log.Warn("capture stream ended, stopping sender; check the capture command and audio server",
		logging.KeyDestination, st.dest, logging.KeyError, err)
	st.close()
	if fn != nil {
		fn(err)
	}
}

func (s *Sender) dial(addr netip.Addr, port int) (*net.UDPConn, error) {
	raddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, uint16(port)))
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raddr, err)
	}
	if addr.Is4() && addr.IsMulticast() {
		if err := ipv4.NewPacketConn(conn).SetMulticastTTL(s.cfg.MulticastTTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast ttl: %w", err)
		}
	}
	return conn, nil
}

type stream struct {
	cfg     Config
	dest    string
	grantID string
	src     io.ReadCloser
	media   *net.UDPConn
	control *net.UDPConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	ssrc uint32

	// Owned by sendLoop.
	seq uint16
	ts  uint32

	lastTS  atomic.Uint32
	packets atomic.Uint32
	octets  atomic.Uint32
}

// sendLoop returns the capture error that ended the stream, or nil when it
// was cancelled.
func (st *stream) sendLoop(ctx context.Context) error {
	defer st.wg.Done()

	samples := uint32(st.cfg.samplesPerFrame())
	buf := make([]byte, st.cfg.frameBytes())
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: st.cfg.PayloadType,
			SSRC:        st.ssrc,
		},
	}

	for {
		if _, err := io.ReadFull(st.src, buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read capture: %w", err)
		}
		swapEndian(buf)

		pkt.SequenceNumber = st.seq
		pkt.Timestamp = st.ts
		pkt.Payload = buf
		data, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp marshal: %w", err)
		}
		if _, err := st.media.Write(data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// ICMP unreachable surfaces here on unicast; keep sending.
			log.Debug("rtp write failed", logging.KeyError, err)
		}

		st.packets.Add(1)
		st.octets.Add(uint32(len(buf)))
		st.lastTS.Store(st.ts)
		st.seq++
		st.ts += samples
	}
}

func (st *stream) reportLoop(ctx context.Context) {
	defer st.wg.Done()
	if st.cfg.ReportInterval <= 0 {
		return
	}

	ticker := time.NewTicker(st.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			st.writeControl(&rtcp.SenderReport{
				SSRC:        st.ssrc,
				NTPTime:     ntpTime(now),
				RTPTime:     st.lastTS.Load(),
				PacketCount: st.packets.Load(),
				OctetCount:  st.octets.Load(),
			})
		}
	}
}

func (st *stream) writeControl(pkts ...rtcp.Packet) {
	data, err := rtcp.Marshal(pkts)
	if err != nil {
		log.Error("rtcp marshal failed", logging.KeyError, err)
		return
	}
	if _, err := st.control.Write(data); err != nil {
		log.Debug("rtcp write failed", logging.KeyError, err)
	}
}

func (st *stream) close() {
	st.cancel()
	if err := st.src.Close(); err != nil {
		log.Warn("capture close failed", logging.KeyError, err)
	}
	st.wg.Wait()

	st.writeControl(&rtcp.Goodbye{Sources: []uint32{st.ssrc}, Reason: "sender stopped"})
	st.media.Close()
	st.control.Close()
}

// swapEndian converts interleaved s16le samples to network order in place.
func swapEndian(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}
