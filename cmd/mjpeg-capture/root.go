package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

// passwordEnv is read when --password is not given.
const passwordEnv = "MJPEG_PASSWORD"

var (
	// Global flags
	sourceURL string
	username  string
	password  string
	debug     bool

	captureFlags struct {
		headerSkip      int
		skipBlankLines  bool
		readTimeout     time.Duration
		connectTimeout  time.Duration
		reconnectDelay  time.Duration
		maxRestarts     int
		snapshotTimeout time.Duration
		source          string
	}
)

var rootCmd = &cobra.Command{
	Use:   "mjpeg-capture",
	Short: "Grab JPEG frames from MJPEG-over-HTTP cameras",
	Long: `mjpeg-capture connects to a camera that streams Motion JPEG as a
multipart HTTP response and hands out single frames on demand.

A background reader keeps the stream drained and reconnects when the camera
goes away; a snapshot always returns a frame decoded after it was requested.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(debug)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	defaults := mjpegcapture.DefaultConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&sourceURL, "url", "u", "", "MJPEG stream URL (http or https)")
	flags.StringVar(&username, "user", "", "username for Basic authentication")
	flags.StringVar(&password, "password", "", "password for Basic authentication (default $"+passwordEnv+")")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	flags.IntVar(&captureFlags.headerSkip, "header-skip", defaults.HeaderSkip, "bytes between the MIME line and the length digits")
	flags.BoolVar(&captureFlags.skipBlankLines, "skip-blank-lines", true, "tolerate CR LF between a payload and the next boundary")
	flags.DurationVar(&captureFlags.readTimeout, "read-timeout", defaults.ReadTimeout, "deadline for a single frame read")
	flags.DurationVar(&captureFlags.connectTimeout, "connect-timeout", defaults.ConnectTimeout, "deadline for dialing and response headers")
	flags.DurationVar(&captureFlags.reconnectDelay, "reconnect-delay", defaults.ReconnectDelay, "wait before each reconnect attempt")
	flags.IntVar(&captureFlags.maxRestarts, "max-restarts", defaults.MaxRestarts, "reader restarts a snapshot may trigger")
	flags.DurationVar(&captureFlags.snapshotTimeout, "snapshot-timeout", defaults.SnapshotTimeout, "deadline for a whole snapshot request (0 = none)")
	flags.StringVar(&captureFlags.source, "source", defaults.SourceName, "source name used in logs and metrics")
}

// setupLogging installs the default slog logger for the process.
func setupLogging(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// captureConfig builds the library configuration from the global flags.
func captureConfig() mjpegcapture.Config {
	cfg := mjpegcapture.DefaultConfig()
	cfg.HeaderSkip = captureFlags.headerSkip
	cfg.SkipBlankLines = captureFlags.skipBlankLines
	cfg.ReadTimeout = captureFlags.readTimeout
	cfg.ConnectTimeout = captureFlags.connectTimeout
	cfg.ReconnectDelay = captureFlags.reconnectDelay
	// Reconnects run at a fixed interval.
	cfg.ReconnectMaxDelay = captureFlags.reconnectDelay
	cfg.MaxRestarts = captureFlags.maxRestarts
	cfg.SnapshotTimeout = captureFlags.snapshotTimeout
	cfg.SourceName = captureFlags.source
	return cfg
}

// credential builds the credential from --user and --password, falling back to
// $MJPEG_PASSWORD. Without --user the URL's own user info (if any) applies.
func credential() mjpegcapture.Credential {
	if username == "" {
		return mjpegcapture.NoCredential()
	}
	pass := password
	if pass == "" {
		pass = os.Getenv(passwordEnv)
	}
	return mjpegcapture.BasicCredential(username, pass)
}

// requireURL fails when --url was not given.
func requireURL() error {
	if sourceURL == "" {
		return fmt.Errorf("--url is required (e.g. --url http://192.168.1.50/video.mjpg)")
	}
	return nil
}
