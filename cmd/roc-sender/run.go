package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dxb134111/roc-droid-modified/internal/capture"
	"github.com/dxb134111/roc-droid-modified/internal/config"
	"github.com/dxb134111/roc-droid-modified/internal/logging"
	"github.com/dxb134111/roc-droid-modified/internal/platform"
	"github.com/dxb134111/roc-droid-modified/internal/prefs"
	"github.com/dxb134111/roc-droid-modified/internal/sender"
	"github.com/dxb134111/roc-droid-modified/internal/statusws"
	"github.com/dxb134111/roc-droid-modified/internal/transport"
)

const helpText = `commands:
  t                  start or stop sending
  s mic|playback     choose the capture source
  d <ip-or-host>     set the destination
  i                  show state and stream counters
  q                  quit
a waiting prompt takes the next line as its answer`

// senderControls is the part of the controller the console drives.
type senderControls interface {
	Toggle()
	Selector() *sender.Selector
	State() sender.State
}

// destination holds the text the operator last entered.
type destination struct {
	v atomic.Value
}

func newDestination(initial string) *destination {
	d := &destination{}
	d.v.Store(initial)
	return d
}

func (d *destination) Get() string  { return d.v.Load().(string) }
func (d *destination) Set(s string) { d.v.Store(s) }

func runSender() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Validate()
	out, closer, err := logging.Output(cfg.Log.File)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()
	logging.Init(cfg.Log.Format, cfg.Log.Level, out)

	log := logging.L("main")

	store, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		return err
	}

	con := newConsole(os.Stdout, autoYes)
	dest := newDestination(store.GetOr(sender.PrefReceiverAddress, cfg.Receiver.Address))

	tr := transport.New(transportConfig(cfg), capture.CommandOpener{
		Microphone: cfg.Capture.MicrophoneCommand,
		Playback:   cfg.Capture.PlaybackCommand,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	})
	ctrl := sender.NewController(sender.Options{
		Transport:        tr,
		Permissions:      platform.NewPermissions(store, con, cfg.Capture.Device),
		CaptureGrants:    platform.NewCaptureGrants(con, commandName(cfg.Capture.PlaybackCommand)),
		Resolver:         sender.NewResolver(nil),
		Selector:         sender.NewSelector(initialSource(store, cfg)),
		Preferences:      store,
		Presenter:        con,
		DestinationInput: dest.Get,
	})

	tr.OnEnded(ctrl.TransportEnded)

	hub := statusws.NewHub()
	ctrl.SetStateListener(func(running bool) {
		if running {
			con.printf("sending to %s", dest.Get())
		} else {
			con.printf("stopped")
		}
		hub.Publish(running)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Listen != "" {
		go func() {
			if err := statusws.Serve(ctx, cfg.Status.Listen, hub); err != nil {
				log.Error("status server failed", logging.KeyError, err)
			}
		}()
	}

	log.Info("sender ready",
		logging.KeyDestination, dest.Get(),
		logging.KeySource, ctrl.Selector().Current().String(),
		"version", version)
	con.printf("roc-sender v%s, destination %s, source %s (h for help)",
		version, dest.Get(), ctrl.Selector().Current())
	if startNow {
		ctrl.Toggle()
	}

	lines := readLines(os.Stdin)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || handleLine(ctrl, con, dest, tr, line) {
				break loop
			}
		}
	}

	con.printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ctrl.Close(shutdownCtx)
}

// handleLine runs one console line and reports whether to quit.
func handleLine(ctrl senderControls, con *console, dest *destination, tr *transport.Sender, line string) bool {
	if con.answer(line) {
		return false
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "t", "toggle":
		ctrl.Toggle()
	case "s", "source":
		if len(fields) < 2 {
			con.printf("source is %s (options: %s)", ctrl.Selector().Current(), sourceOptions(ctrl.Selector()))
			return false
		}
		src, err := sender.ParseCaptureSource(fields[1])
		if err != nil {
			con.printf("%v", err)
			return false
		}
		ctrl.Selector().Select(src)
		con.printf("source set to %s", src)
	case "d", "dest":
		if len(fields) < 2 {
			con.printf("destination is %q", dest.Get())
			return false
		}
		dest.Set(fields[1])
		con.printf("destination set to %s", fields[1])
	case "i", "info":
		con.printf("state %s, source %s, destination %q", ctrl.State(), ctrl.Selector().Current(), dest.Get())
		if tr != nil {
			if st := tr.Stats(); st.Running {
				con.printf("streaming to %s ssrc=%d packets=%d bytes=%d", st.Destination, st.SSRC, st.Packets, st.Octets)
			}
		}
	case "h", "help", "?":
		con.printf("%s", helpText)
	case "q", "quit", "exit":
		return true
	default:
		con.printf("unknown command %q (h for help)", fields[0])
	}
	return false
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func sourceOptions(sel *sender.Selector) string {
	opts := sel.Options()
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.String()
	}
	return strings.Join(names, ", ")
}

// initialSource prefers the saved choice over the configured default.
func initialSource(store *prefs.Store, cfg *config.Config) sender.CaptureSource {
	if v, ok := store.Get(sender.PrefPlaybackCapture); ok {
		if playback, err := strconv.ParseBool(v); err == nil {
			if playback {
				return sender.SystemPlayback
			}
			return sender.Microphone
		}
	}
	src, err := sender.ParseCaptureSource(cfg.Capture.Source)
	if err != nil {
		return sender.SystemPlayback
	}
	return src
}

func transportConfig(cfg *config.Config) transport.Config {
	return transport.Config{
		SourcePort:     cfg.Receiver.SourcePort,
		RepairPort:     cfg.Receiver.RepairPort,
		ControlPort:    cfg.Receiver.ControlPort,
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		FrameMs:        cfg.Audio.FrameMs,
		PayloadType:    uint8(cfg.Transport.PayloadType),
		MulticastTTL:   cfg.Transport.MulticastTTL,
		ReportInterval: time.Duration(cfg.Transport.ReportIntervalSeconds) * time.Second,
	}
}

func commandName(line string) string {
	if fields := strings.Fields(line); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
