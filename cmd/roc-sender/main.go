package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dxb134111/roc-droid-modified/internal/config"
	"github.com/dxb134111/roc-droid-modified/internal/platform"
	"github.com/dxb134111/roc-droid-modified/internal/prefs"
	"github.com/dxb134111/roc-droid-modified/internal/sender"
)

var (
	version  = "0.1.0"
	cfgFile  string
	autoYes  bool
	startNow bool
	force    bool
)

var rootCmd = &cobra.Command{
	Use:   "roc-sender",
	Short: "Stream system or microphone audio to a ROC receiver",
	Long: `roc-sender captures system playback or the microphone and streams it
as RTP to a receiver on the local network.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive sender console",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSender()
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <ip-or-hostname>",
	Short: "Resolve a destination the way the sender does",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveDestination(args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host interfaces, receiver ports and saved preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the sender configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath()
		if len(args) == 1 {
			path = args[0]
		}
		if err := writeConfig(path, force); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("roc-sender v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <config dir>/sender.yaml)")
	runCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "accept every permission and capture prompt")
	runCmd.Flags().BoolVar(&startNow, "start", false, "start sending immediately")
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// writeConfig saves the loaded and validated config to path. An existing
// file is kept unless overwrite is set.
func writeConfig(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Validate()
	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func resolveDestination(input string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dest, err := sender.NewResolver(nil).Resolve(ctx, input)
	if err != nil {
		return err
	}
	kind := "resolved"
	if dest.Literal {
		kind = "literal"
	}
	fmt.Printf("%s -> %s (%s)\n", dest.Input, dest.Host, kind)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	summary, err := platform.Summarize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	fmt.Printf("Host:      %s (%s, %s)\n", summary.Hostname, summary.Platform, summary.Arch)
	for _, iface := range summary.Interfaces {
		multicast := ""
		if iface.Multicast {
			multicast = " multicast"
		}
		fmt.Printf("Interface: %-10s %s%s\n", iface.Name, iface.IPv4, multicast)
	}
	fmt.Printf("Ports:     source %d, repair %d, control %d\n",
		cfg.Receiver.SourcePort, cfg.Receiver.RepairPort, cfg.Receiver.ControlPort)

	store, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		return err
	}
	keys := store.Keys()
	if len(keys) == 0 {
		fmt.Println("Prefs:     none saved")
		return nil
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := store.Get(k)
		parts = append(parts, k+"="+v)
	}
	fmt.Printf("Prefs:     %s\n", strings.Join(parts, " "))
	return nil
}
