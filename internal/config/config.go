// Package config defines the process-wide Config for cmd/edge-monitor,
// assembled from command-line flags with environment-variable
// overrides, following cmd/radar/radar.go's flag.String/flag.Bool/
// flag.Duration style (this package centralizes it behind a struct and
// a FromArgs constructor instead of package-level flag vars, since this
// Config — unlike the teacher's single-binary radar.go — is shared by
// multiple cmd/ entry points).
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the pipeline's components need at
// startup.
type Config struct {
	RadarPort     string
	RadarBaud     int
	DisableRadar  bool
	ListenAddr    string
	DBPath        string
	CaptureDirs   []string
	CORSOrigins   []string
	WeatherStationID  string
	WeatherURL        string
	ShutdownDeadline  time.Duration
	LogLevel          string
}

// FromArgs parses args (typically os.Args[1:]) into a Config, applying
// environment-variable overrides for the handful of settings an
// operator is most likely to want to set per-deployment without
// touching a command line, matching the teacher's own
// os.Getenv("VELOCITY_...") escape hatches alongside flag.Parse().
func FromArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("edge-monitor", flag.ContinueOnError)

	cfg := Config{}
	fs.StringVar(&cfg.RadarPort, "radar-port", "/dev/ttySC1", "serial port for the radar sensor")
	fs.IntVar(&cfg.RadarBaud, "radar-baud", 19200, "serial baud rate for the radar sensor")
	fs.BoolVar(&cfg.DisableRadar, "disable-radar", false, "run without opening the radar serial port (for development without the hardware attached)")
	fs.StringVar(&cfg.ListenAddr, "listen", ":8080", "HTTP listen address for the API")
	fs.StringVar(&cfg.DBPath, "db-path", "traffic.db", "path to the sqlite store file")
	fs.StringVar(&cfg.WeatherStationID, "weather-station-id", "", "remote weather station identifier")
	fs.StringVar(&cfg.WeatherURL, "weather-url", "", "remote weather station observation URL")
	fs.DurationVar(&cfg.ShutdownDeadline, "shutdown-deadline", 10*time.Second, "graceful shutdown drain deadline")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")

	var captureDirs, corsOrigins string
	fs.StringVar(&captureDirs, "capture-dirs", "/mnt/storage/camera_capture", "comma-separated capture directories to prune")
	fs.StringVar(&corsOrigins, "cors-origins", "", "comma-separated allowed CORS origins (empty disables cross-origin access)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.CaptureDirs = splitNonEmpty(captureDirs)
	cfg.CORSOrigins = splitNonEmpty(corsOrigins)

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EDGE_MONITOR_RADAR_PORT"); v != "" {
		cfg.RadarPort = v
	}
	if v := os.Getenv("EDGE_MONITOR_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("EDGE_MONITOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("EDGE_MONITOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EDGE_MONITOR_SHUTDOWN_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownDeadline = d
		}
	}
	if v := os.Getenv("EDGE_MONITOR_RADAR_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RadarBaud = n
		}
	}
	if v := os.Getenv("EDGE_MONITOR_DISABLE_RADAR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DisableRadar = b
		}
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
