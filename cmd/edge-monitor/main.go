// Command edge-monitor is the orchestrator of spec section 5: it wires
// the radar and camera readers, the remote weather reader (when a
// station is configured), the consolidator, persister, broadcaster, maintenance loops, and the
// HTTP/WebSocket API into one process and drains them in order on
// SIGINT/SIGTERM.
//
// Grounded on cmd/radar/radar.go's main(): a signal.NotifyContext,
// one sync.WaitGroup, one goroutine per component calling its Run(ctx),
// and a final wg.Wait() before exit. The teacher's lidar/transit-worker/
// PDF-flow flags have no equivalent here; what survives is the shape
// of the wiring, not its content.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gcu-merk/edge-traffic-monitor/internal/api"
	"github.com/gcu-merk/edge-traffic-monitor/internal/broadcaster"
	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/camerasensor"
	"github.com/gcu-merk/edge-traffic-monitor/internal/config"
	"github.com/gcu-merk/edge-traffic-monitor/internal/consolidator"
	"github.com/gcu-merk/edge-traffic-monitor/internal/fsutil"
	"github.com/gcu-merk/edge-traffic-monitor/internal/httputil"
	"github.com/gcu-merk/edge-traffic-monitor/internal/maintenance"
	"github.com/gcu-merk/edge-traffic-monitor/internal/persister"
	"github.com/gcu-merk/edge-traffic-monitor/internal/pipelineerr"
	"github.com/gcu-merk/edge-traffic-monitor/internal/radarsensor"
	"github.com/gcu-merk/edge-traffic-monitor/internal/serialmux"
	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
	"github.com/gcu-merk/edge-traffic-monitor/internal/version"
	"github.com/gcu-merk/edge-traffic-monitor/internal/weather"
)

func main() {
	cfg, err := config.FromArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse configuration: %v", err)
	}

	telemetry.SetLevel(parseLevel(cfg.LogLevel))
	log := telemetry.For("edge-monitor")
	log.Info().Str("version", version.Version).Str("git_sha", version.GitSHA).Msg("starting edge-monitor")

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open store")
	}
	defer db.Close()

	b := broker.New()
	defer b.Close()

	policies, err := config.LoadPolicies(config.PoliciesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", config.PoliciesPath).Msg("failed to load maintenance policies; falling back to built-in defaults")
		policies = config.Policies{CaptureDirs: cfg.CaptureDirs}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(name string, r interface{ Run(context.Context) error }) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Str("component", name).Err(err).Msg("component exited with error")
			}
		}()
	}

	run("consolidator", consolidator.New(b, consolidator.DefaultStalenessConfig()))
	run("persister", persister.New(b, db, persister.DefaultConfig(cfg.DBPath+".queue.jsonl")))
	run("broadcaster", broadcaster.New(b, db, broadcaster.DefaultConfig()))
	run("maintenance", maintenance.New(b, db, fsutil.OSFileSystem{}, maintenanceConfigFromPolicies(policies, cfg.CaptureDirs)))
	run("camera", camerasensor.New(b, camerasensor.DefaultConfig()))

	if cfg.WeatherStationID != "" && cfg.WeatherURL != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: 15 * time.Second})
		run("weather-remote", weather.NewRemoteReader(client, b, weather.DefaultRemoteReaderConfig(cfg.WeatherStationID, cfg.WeatherURL)))
	} else {
		log.Warn().Msg("no weather station configured (-weather-station-id/-weather-url); remote weather reader disabled")
	}
	// No production weather.LocalSensor implementation exists: the pack
	// carries no GPIO/one-wire driver library to bind one to (see
	// DESIGN.md). The local reader starts only when a future sensor
	// package supplies a concrete weather.LocalSensor.

	apiServer := api.NewServer(b, db, api.CORSConfig{AllowedOrigins: cfg.CORSOrigins})
	apiMux := apiServer.ServeMux()
	if err := db.AttachAdminRoutes(apiMux); err != nil {
		log.Warn().Err(err).Msg("failed to attach store admin routes")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runRadar(ctx, cfg, b, apiMux, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runAPI(ctx, apiServer, cfg.ListenAddr, cfg.ShutdownDeadline); err != nil {
			log.Error().Err(err).Msg("API server exited with error")
		}
	}()

	wg.Wait()
	log.Info().Msg("graceful shutdown complete")
}

// runRadar owns the reopen-on-error loop radarsensor.Reader.Run leaves
// to its caller: each time Run returns (device error, bad open), wait
// ReopenBackoff and try again, until ctx is cancelled.
//
// The serial port's own debug admin routes (send-command form, line
// tail) are attached to apiMux on the first successful open only: the
// teacher attaches them once against a port that is opened exactly
// once. Here the port can be reopened after an error, and re-attaching
// the same route paths to apiMux on every reconnect would panic on the
// duplicate registration, so the routes stay bound to whichever serial
// instance was live at the time they were registered until the process
// restarts — a known, accepted limitation of adding reconnect on top of
// routes designed for a single long-lived port.
func runRadar(ctx context.Context, cfg config.Config, b broker.Broker, apiMux *http.ServeMux, log telemetry.Logger) {
	radarCfg := radarsensor.DefaultConfig()

	if cfg.DisableRadar {
		log.Warn().Msg("radar disabled via --disable-radar; running without a serial port")
		mux := serialmux.NewDisabledSerialMux()
		mux.AttachAdminRoutes(apiMux)
		reader := radarsensor.New(mux, b, radarCfg)
		if err := reader.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("disabled radar reader exited unexpectedly")
		}
		return
	}

	var attachAdminRoutesOnce sync.Once
	for {
		if ctx.Err() != nil {
			return
		}
		mux, err := serialmux.NewRealSerialMux(cfg.RadarPort, serialmux.PortOptions{BaudRate: cfg.RadarBaud})
		if err != nil {
			// Opening the port again after a transient failure (device
			// unplugged, port busy) is always worth retrying rather
			// than giving up on the whole process.
			err = pipelineerr.Wrap(pipelineerr.Transient, "open", err)
			log.Warn().Err(err).Str("port", cfg.RadarPort).Str("kind", pipelineerr.KindOf(err).String()).
				Msg("failed to open radar serial port; retrying after backoff")
			if !sleepOrDone(ctx, radarCfg.ReopenBackoff) {
				return
			}
			continue
		}
		attachAdminRoutesOnce.Do(func() { mux.AttachAdminRoutes(apiMux) })

		reader := radarsensor.New(mux, b, radarCfg)
		err = reader.Run(ctx)
		mux.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			err = pipelineerr.Wrap(pipelineerr.Transient, "read", err)
			log.Warn().Err(err).Str("kind", pipelineerr.KindOf(err).String()).Msg("radar reader exited; reopening after backoff")
		}
		if !sleepOrDone(ctx, radarCfg.ReopenBackoff) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runAPI runs apiServer's handler until ctx is cancelled, then drains
// in-flight requests for up to deadline before forcing a close.
// Grounded on internal/api/server.go's own Start: background
// ListenAndServe, select on ctx.Done vs a serve error, graceful
// Shutdown with a bounded timeout and a Close fallback.
func runAPI(ctx context.Context, s *api.Server, listen string, deadline time.Duration) error {
	server := &http.Server{Addr: listen, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			if closeErr := server.Close(); closeErr != nil {
				return closeErr
			}
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func maintenanceConfigFromPolicies(p config.Policies, fallbackCaptureDirs []string) maintenance.Config {
	captureDirs := p.CaptureDirs
	if len(captureDirs) == 0 {
		captureDirs = fallbackCaptureDirs
	}
	cfg := maintenance.DefaultConfig(captureDirs)
	if len(p.TTLPolicies) > 0 {
		policies := make([]maintenance.TTLPolicy, 0, len(p.TTLPolicies))
		for _, entry := range p.TTLPolicies {
			policies = append(policies, maintenance.TTLPolicy{Key: entry.Key, TTL: entry.TTL})
		}
		cfg.TTLPolicies = policies
	}
	if p.ImageMaxAge > 0 {
		cfg.ImageMaxAge = p.ImageMaxAge
	}
	if p.EmergencyDiskFreePercent > 0 {
		cfg.EmergencyDiskPct = p.EmergencyDiskFreePercent
	}
	if p.CompactionInterval > 0 {
		cfg.VacuumInterval = p.CompactionInterval
	}
	return cfg
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
