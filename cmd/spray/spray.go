package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/spray.report/internal/agent"
	"github.com/banshee-data/spray.report/internal/api"
	"github.com/banshee-data/spray.report/internal/config"
	"github.com/banshee-data/spray.report/internal/db"
	"github.com/banshee-data/spray.report/internal/detect"
	"github.com/banshee-data/spray.report/internal/jobs"
	"github.com/banshee-data/spray.report/internal/maintenance"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/source"
	"github.com/banshee-data/spray.report/internal/timeutil"
	"github.com/banshee-data/spray.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPathFlag  = flag.String("db-path", "spray.db", "Path to the SQLite database file")
	configFile  = flag.String("config", "", "Path to a tuning JSON file (built-in defaults when empty)")
	backupDir   = flag.String("backup-dir", "", "Directory for on-demand database backups")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logEncoding = flag.String("log-encoding", "console", "Log encoding: console or json")
	disableJobs = flag.Bool("disable-jobs", false, "Start with scheduled reconcile and compaction paused")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// Telemetry sources. Any combination may be enabled.
var (
	serialPort   = flag.String("serial-port", "", "Serial device of the encoder board (empty disables)")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	mqttBroker   = flag.String("mqtt-broker", "", "MQTT broker host:port (empty disables)")
	mqttTopic    = flag.String("mqtt-topic", "spray/telemetry", "MQTT topic carrying readings")
	mqttClientID = flag.String("mqtt-client-id", "spray-report", "MQTT client identifier")
	fixturePath  = flag.String("fixture", "", "Replay readings from a file instead of hardware")
	fixturePace  = flag.Duration("fixture-pace", 100*time.Millisecond, "Delay between replayed readings (0 replays at once)")
	boardTZ      = flag.String("board-tz", "Local", "Time zone of timestamps sent by the board")
	sourceRetry  = flag.Duration("source-retry", 5*time.Second, "Wait before restarting a failed source")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n       %s migrate <action> [args]\n\nFlags:\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], *dbPathFlag, os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			flag.Usage()
			os.Exit(2)
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	zl, err := monitoring.NewLogger(monitoring.LogConfig{Level: *logLevel, Encoding: *logEncoding})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	monitoring.UseZap(zl)
	monitoring.Logf("starting %s", version.String())

	tuning, err := loadTuning(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	parser, err := boardParser(*boardTZ)
	if err != nil {
		log.Fatalf("invalid board time zone: %v", err)
	}

	store, err := db.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	ingester := source.NewIngester(store, parser, clock, metrics)
	sources, err := buildSources(clock)
	if err != nil {
		log.Fatalf("failed to configure sources: %v", err)
	}
	if len(sources) == 0 {
		monitoring.Logf("no telemetry source enabled; readings arrive only through POST /api/readings")
	}

	controller := jobs.NewController(store, clock, tuning.JobsConfig(), metrics)
	if *disableJobs {
		controller.SetEnabled(false)
	}
	timeline := maintenance.NewManager(store, clock, tuning.MaintenanceConfig(), metrics)
	monitor := agent.NewMonitor(store, timeline, newDetectors(store, controller, timeline, tuning, clock, metrics),
		tuning.SegmentConfig(), tuning.GetTickInterval(), clock, metrics)

	// Create a wait group for the HTTP server, sources, monitor and job routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, src := range sources {
		wg.Add(1)
		go func(src source.Source) {
			defer wg.Done()
			if err := source.RunWithRetry(ctx, src, ingester, *sourceRetry); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("%s source stopped: %v", src.Name(), err)
			}
			monitoring.Logf("%s source routine terminated", src.Name())
		}(src)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("job controller stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("monitor stopped: %v", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Deps{
			Store:    store,
			Ingester: ingester,
			Jobs:     controller,
			Timeline: timeline,
			Monitor:  monitor,
			Clock:    clock,
			Metrics:  metrics,
		}).ServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := store.AttachAdminRoutes(mux, *backupDir); err != nil {
			monitoring.Logf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			monitoring.Logf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}

		monitoring.Logf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	monitoring.Logf("Graceful shutdown complete")
}

// loadTuning reads path, or returns the built-in defaults when it is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func boardParser(tz string) (source.Parser, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return source.Parser{}, err
	}
	return source.Parser{Location: loc}, nil
}

// buildSources returns the telemetry sources selected by the flags.
func buildSources(clock timeutil.Clock) ([]source.Source, error) {
	var sources []source.Source
	if *serialPort != "" {
		s, err := source.NewSerial(*serialPort, source.PortOptions{BaudRate: *baudRate})
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if *mqttBroker != "" {
		if *mqttTopic == "" {
			return nil, fmt.Errorf("mqtt-topic is required with mqtt-broker")
		}
		sources = append(sources, source.NewMQTT(source.MQTTConfig{
			Broker:   *mqttBroker,
			Topic:    *mqttTopic,
			ClientID: *mqttClientID,
		}))
	}
	if *fixturePath != "" {
		f := source.NewFixture(*fixturePath, *fixturePace, clock)
		f.Rebase = true
		sources = append(sources, f)
	}
	return sources, nil
}

// newDetectors wires the live and session checks to one shared alerter.
func newDetectors(store *db.DB, controller *jobs.Controller, timeline *maintenance.Manager, tuning *config.TuningConfig, clock timeutil.Clock, metrics *monitoring.Metrics) agent.Detectors {
	alerts := detect.NewAlerter(store, clock, tuning.GetDedupWindow(), metrics)
	baseline := detect.NewAggregator(store, alerts)
	th := tuning.Thresholds()
	return agent.Detectors{
		Blockage:    detect.NewBlockage(alerts, th),
		Pressure:    detect.NewPressure(baseline, alerts, th),
		Malfunction: detect.NewMalfunction(store, controller, timeline, baseline, alerts, th),
		Filter:      maintenance.NewFilterEstimator(timeline, store, baseline, alerts, clock, tuning.FilterConfig()),
	}
}
