package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// sourceAliases maps every accepted capture.source spelling to its
// canonical name. Keep in step with sender.ParseCaptureSource.
var sourceAliases = map[string]string{
	"playback":   "playback",
	"apps":       "playback",
	"system":     "playback",
	"microphone": "microphone",
	"mic":        "microphone",
}

// Validate checks the config for invalid values and returns all errors found.
// Values that would break the transport (zero ports, zero frame size) are
// clamped to safe defaults. Errors are logged as warnings but do not prevent
// startup.
func (c *Config) Validate() []error {
	var errs []error
	def := Default()

	for _, p := range []struct {
		name string
		val  *int
		def  int
	}{
		{"receiver.source_port", &c.Receiver.SourcePort, def.Receiver.SourcePort},
		{"receiver.repair_port", &c.Receiver.RepairPort, def.Receiver.RepairPort},
		{"receiver.control_port", &c.Receiver.ControlPort, def.Receiver.ControlPort},
	} {
		if *p.val < 1 || *p.val > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range, using %d", p.name, *p.val, p.def))
			*p.val = p.def
		}
	}

	if canonical, ok := sourceAliases[strings.ToLower(strings.TrimSpace(c.Capture.Source))]; ok {
		c.Capture.Source = canonical
	} else {
		errs = append(errs, fmt.Errorf("capture.source %q is not valid (use playback or microphone), using playback", c.Capture.Source))
		c.Capture.Source = "playback"
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range, using %d", c.Audio.SampleRate, def.Audio.SampleRate))
		c.Audio.SampleRate = def.Audio.SampleRate
	}

	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is not valid (use 1 or 2), using %d", c.Audio.Channels, def.Audio.Channels))
		c.Audio.Channels = def.Audio.Channels
	}

	if c.Audio.FrameMs < 1 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is below minimum 1, clamping", c.Audio.FrameMs))
		c.Audio.FrameMs = 1
	} else if c.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d exceeds maximum 100, clamping", c.Audio.FrameMs))
		c.Audio.FrameMs = 100
	}

	if c.Transport.PayloadType < 0 || c.Transport.PayloadType > 127 {
		errs = append(errs, fmt.Errorf("transport.payload_type %d is out of range, using %d", c.Transport.PayloadType, def.Transport.PayloadType))
		c.Transport.PayloadType = def.Transport.PayloadType
	}

	if c.Transport.MulticastTTL < 1 || c.Transport.MulticastTTL > 255 {
		errs = append(errs, fmt.Errorf("transport.multicast_ttl %d is out of range, using 1", c.Transport.MulticastTTL))
		c.Transport.MulticastTTL = 1
	}

	if c.Transport.ReportIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("transport.report_interval_seconds %d is below minimum 1, clamping", c.Transport.ReportIntervalSeconds))
		c.Transport.ReportIntervalSeconds = 1
	}

	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q is not valid (use debug, info, warn, error)", c.Log.Level))
	}

	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not valid (use text or json)", c.Log.Format))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
