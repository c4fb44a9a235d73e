package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "ROC_SENDER"

type Config struct {
	Receiver  ReceiverConfig  `mapstructure:"receiver"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Transport TransportConfig `mapstructure:"transport"`
	Log       LogConfig       `mapstructure:"log"`
	Status    StatusConfig    `mapstructure:"status"`
	PrefsFile string          `mapstructure:"prefs_file"`
}

type ReceiverConfig struct {
	// Address is the destination input used when no saved preference exists.
	Address     string `mapstructure:"address"`
	SourcePort  int    `mapstructure:"source_port"`
	RepairPort  int    `mapstructure:"repair_port"`
	ControlPort int    `mapstructure:"control_port"`
}

type CaptureConfig struct {
	// Source is "playback" or "microphone".
	Source            string `mapstructure:"source"`
	MicrophoneCommand string `mapstructure:"microphone_command"`
	PlaybackCommand   string `mapstructure:"playback_command"`
	Device            string `mapstructure:"device"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	FrameMs    int `mapstructure:"frame_ms"`
}

type TransportConfig struct {
	PayloadType           int `mapstructure:"payload_type"`
	MulticastTTL          int `mapstructure:"multicast_ttl"`
	ReportIntervalSeconds int `mapstructure:"report_interval_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type StatusConfig struct {
	// Listen is the websocket status address; empty disables it.
	Listen string `mapstructure:"listen"`
}

func Default() *Config {
	return &Config{
		Receiver: ReceiverConfig{
			Address:     "192.168.0.100",
			SourcePort:  10001,
			RepairPort:  10002,
			ControlPort: 10003,
		},
		Capture: CaptureConfig{
			Source:            "playback",
			MicrophoneCommand: "arecord -q -t raw -f S16_LE -r {rate} -c {channels}",
			PlaybackCommand:   "parec --format=s16le --rate={rate} --channels={channels} -d @DEFAULT_MONITOR@",
			Device:            "/dev/snd",
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   2,
			FrameMs:    5,
		},
		Transport: TransportConfig{
			PayloadType:           10,
			MulticastTTL:          1,
			ReportIntervalSeconds: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		PrefsFile: filepath.Join(configDir(), "settings.yaml"),
	}
}

// Load reads sender.yaml (or cfgFile when given) and ROC_SENDER_* env vars
// over the defaults. A missing default config file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sender")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// DefaultPath is where Load looks first and where `config init` writes.
func DefaultPath() string {
	return filepath.Join(configDir(), "sender.yaml")
}

// SaveTo writes cfg as YAML to path, creating the directory if needed.
func SaveTo(cfg *Config, path string) error {
	v := newViper(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return v.WriteConfigAs(path)
}

// newViper returns a viper instance seeded with every key of cfg so that
// AutomaticEnv can resolve nested keys (receiver.address → ROC_SENDER_RECEIVER_ADDRESS).
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("receiver.address", cfg.Receiver.Address)
	v.SetDefault("receiver.source_port", cfg.Receiver.SourcePort)
	v.SetDefault("receiver.repair_port", cfg.Receiver.RepairPort)
	v.SetDefault("receiver.control_port", cfg.Receiver.ControlPort)
	v.SetDefault("capture.source", cfg.Capture.Source)
	v.SetDefault("capture.microphone_command", cfg.Capture.MicrophoneCommand)
	v.SetDefault("capture.playback_command", cfg.Capture.PlaybackCommand)
	v.SetDefault("capture.device", cfg.Capture.Device)
	v.SetDefault("audio.sample_rate", cfg.Audio.SampleRate)
	v.SetDefault("audio.channels", cfg.Audio.Channels)
	v.SetDefault("audio.frame_ms", cfg.Audio.FrameMs)
	v.SetDefault("transport.payload_type", cfg.Transport.PayloadType)
	v.SetDefault("transport.multicast_ttl", cfg.Transport.MulticastTTL)
	v.SetDefault("transport.report_interval_seconds", cfg.Transport.ReportIntervalSeconds)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("status.listen", cfg.Status.Listen)
	v.SetDefault("prefs_file", cfg.PrefsFile)
	return v
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "RocSender")
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "RocSender")
		}
		return "."
	default:
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "roc-sender")
		}
		return "/etc/roc-sender"
	}
}
