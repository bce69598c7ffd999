package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pion/webrtc/v4"

	"github.com/lanternops/deskhost-host/internal/config"
	"github.com/lanternops/deskhost-host/internal/deskhost"
	"github.com/lanternops/deskhost-host/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "deskhost-host",
	Short: "Desktop Host",
	Long:  `Desktop Host - low-latency remote desktop streaming over a single WebRTC data channel`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the desktop host",
	Run: func(cmd *cobra.Command, args []string) {
		runHost()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Desktop Host v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/deskhost-host/deskhost.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.HostConfig) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// iceServersFromConfig parses the configured stun:/turn:/turns: URIs into
// pion ICE server descriptors. Entries ValidateTiered already flagged as
// unrecognized are skipped rather than handed to pion.
func iceServersFromConfig(uris []string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(uris))
	for _, raw := range uris {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "stun" && u.Scheme != "turn" && u.Scheme != "turns") {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{raw}})
	}
	return servers
}

// runHost builds the capture/encode/transport/input pipeline and serves the
// signaling HTTP surface until a termination signal arrives.
func runHost() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	creds, err := deskhost.LoadAuthCredentials(cfg.AuthFile)
	if err != nil {
		log.Error("failed to load auth credentials", "error", err)
		os.Exit(1)
	}

	sv, err := deskhost.NewSupervisor(creds, deskhost.SupervisorConfig{
		InitialFPS:            cfg.InitialFPS,
		InitialBitrate:        cfg.InitialBitrate,
		MinBitrate:            cfg.MinBitrate,
		MaxBitrate:            cfg.MaxBitrate,
		PreferHardwareEncoder: cfg.PreferHardwareEncoder,
		ICEServers:            iceServersFromConfig(cfg.ICEServers),
	})
	if err != nil {
		log.Error("failed to build desktop host pipeline", "error", err)
		os.Exit(1)
	}

	log.Info("starting desktop host",
		"version", version,
		"listen", cfg.ListenAddr,
		"session_id", sv.SessionID(),
	)

	sv.Start()

	adapter := deskhost.NewSignalingAdapter(sv.Transport(), sv.Metrics())

	ctx, cancel := context.WithCancel(context.Background())
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- deskhost.Serve(ctx, cfg.ListenAddr, adapter) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("shutting down desktop host")
		cancel()
		select {
		case <-serveErrCh:
		case <-time.After(10 * time.Second):
			log.Warn("signaling server did not shut down in time")
		}
	case err := <-serveErrCh:
		if err != nil {
			log.Error("signaling server stopped unexpectedly", "error", err)
		}
		cancel()
	}

	sv.Stop()
	log.Info("desktop host stopped")
}
