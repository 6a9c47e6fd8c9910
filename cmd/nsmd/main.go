// nsmd is the NSM management daemon.
//
// It talks NSM over an MCTP demultiplexer socket to the GPUs and switches
// of a node, discovers their capabilities, polls their sensors, dispatches
// the events they raise and runs configuration changes as tracked async
// operations. Readings, events and operation results are exposed over the
// HTTP/WebSocket API and, when enabled, MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/nsm-core/internal/api"
	"github.com/nerrad567/nsm-core/internal/asyncop"
	"github.com/nerrad567/nsm-core/internal/auth"
	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/discovery"
	"github.com/nerrad567/nsm-core/internal/event"
	"github.com/nerrad567/nsm-core/internal/health"
	"github.com/nerrad567/nsm-core/internal/infrastructure/config"
	"github.com/nerrad567/nsm-core/internal/infrastructure/database"
	"github.com/nerrad567/nsm-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/nsm-core/internal/infrastructure/logging"
	"github.com/nerrad567/nsm-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nsm-core/internal/passthrough"
	"github.com/nerrad567/nsm-core/internal/requester"
	"github.com/nerrad567/nsm-core/internal/scheduler"
	"github.com/nerrad567/nsm-core/internal/sensor"
	"github.com/nerrad567/nsm-core/internal/transport"
	"github.com/nerrad567/nsm-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/nsmd.yaml"

// publisherQueueSize bounds the MQTT outbound queue.
const publisherQueueSize = 1024

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	showVersion bool
	issueToken  string
	role        string
	tokenTTL    time.Duration
}

// parseFlags parses args. The config path defaults to NSMD_CONFIG, then
// defaultConfigPath.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("nsmd", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.StringVar(&opts.issueToken, "issue-token", "", "print an API bearer token for `subject` and exit")
	flagSet.StringVar(&opts.role, "role", string(auth.RoleOperator), "role of the issued token (viewer, operator, admin)")
	flagSet.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the issued token")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//   - stdout: Destination for --version and --issue-token output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error { //nolint:gocognit,gocyclo,funlen // startup wiring reads top to bottom
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "nsmd %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		return issueToken(stdout, cfg, opts)
	}

	log.Info("starting nsmd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry, warmed from the last known capabilities
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry initialised", "devices", registry.Len())

	// Demultiplexer transport
	transportClient, err := transport.Connect(ctx, transport.Config{
		Connection:        cfg.Transport.Connection,
		ConnectTimeout:    cfg.Transport.ConnectTimeout,
		ReadTimeout:       cfg.Transport.ReadTimeout,
		ReconnectInterval: cfg.Transport.ReconnectInterval,
		EventWorkers:      cfg.Transport.EventWorkers,
		EventQueueSize:    cfg.Transport.EventQueueSize,
	})
	if err != nil {
		return fmt.Errorf("connecting to demultiplexer: %w", err)
	}
	defer func() {
		log.Info("closing demultiplexer connection")
		if closeErr := transportClient.Close(); closeErr != nil {
			log.Error("error closing transport", "error", closeErr)
		}
	}()
	transportClient.SetLogger(log.Component("transport"))
	log.Info("demultiplexer connected", "connection", cfg.Transport.Connection)

	// Request/response correlation
	req := requester.New(transportClient, requester.Options{
		ResponseTimeout:    cfg.Requester.ResponseTimeout,
		Retries:            cfg.Requester.Retries,
		InstanceIDExpiry:   cfg.Requester.InstanceIDExpiry,
		LongRunningTimeout: cfg.Requester.LongRunningTimeout,
	})
	req.SetLogger(log.Component("requester"))
	defer func() {
		log.Info("closing requester")
		req.Close()
	}()
	reqLog := log.Component("requester")
	transportClient.SetOnResponse(func(eid uint8, msg []byte) {
		if deliverErr := req.Deliver(eid, msg); deliverErr != nil {
			reqLog.Debug("response not delivered", "eid", eid, "error", deliverErr)
		}
	})

	dispatcher := event.NewDispatcher(registry, transportClient)
	dispatcher.SetLogger(log.Component("event"))

	sched := scheduler.NewManager(req, cfg.Scheduler.Interval)
	sched.SetLogger(log.Component("scheduler"))
	defer func() {
		log.Info("stopping sensor polling")
		sched.StopAll()
	}()

	// Async operations, with terminal records kept in SQLite
	opsManager := asyncop.NewManager(asyncop.Options{
		Capacity: cfg.Async.MaxOperations,
		Timeout:  cfg.Async.Timeout,
	}, asyncop.NewSQLiteHistory(db.DB))
	opsManager.SetLogger(log.Component("asyncop"))
	defer func() {
		log.Info("closing async operations")
		opsManager.Close()
	}()
	operations := asyncop.NewOperations(opsManager, req)
	executor := passthrough.New(registry, req)

	sinks := sensor.Sinks{}
	forwarders := []event.Forwarder{}
	notifiers := []asyncop.Notifier{}
	checks := []health.Check{
		{Name: "database", Probe: db.HealthCheck},
		{Name: "transport", Probe: transportClient.HealthCheck},
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	var healthPublisher health.Publisher
	var mqttState api.ConnectionState
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			st := mqttClient.Stats()
			log.Info("disconnecting from MQTT", "connects", st.Connects, "drops", st.Drops)
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		publisher := mqtt.NewPublisher(mqttClient, publisherQueueSize)
		publisher.SetLogger(log.Component("mqtt"))
		publisher.Start(ctx)
		defer func() {
			log.Info("stopping MQTT publisher", "dropped", publisher.Dropped(), "failed", publisher.Failed())
			publisher.Stop()
		}()

		sinks = append(sinks, publisher)
		forwarders = append(forwarders, publisher.Event)
		notifiers = append(notifiers, publisher.Operation)
		checks = append(checks, health.Check{Name: "mqtt", Probe: mqttClient.HealthCheck})
		healthPublisher = mqttClient
		mqttState = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var statsWriter health.StatsWriter
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection", "write_errors", influxClient.WriteErrors())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		req.SetObserver(influxClient)
		sinks = append(sinks, influxClient)
		checks = append(checks, health.Check{Name: "influxdb", Probe: influxClient.HealthCheck})
		statsWriter = influxClient
	}

	reporter := health.NewReporter(health.Config{
		Daemon:     cfg.Daemon.Name,
		Version:    version,
		Interval:   cfg.Health.Interval,
		Publisher:  healthPublisher,
		Devices:    registry,
		Exchanges:  req,
		Operations: opsManager,
		Events:     dispatcher,
		Stats:      statsWriter,
		Checks:     checks,
	})
	reporter.SetLogger(log.Component("health"))

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		Registry:    registry,
		Exchanges:   req,
		Operations:  operations,
		Passthrough: executor,
		Health:      reporter,
		MQTT:        mqttState,
		DB:          db.DB,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	sinks = append(sinks, apiServer)
	forwarders = append(forwarders, apiServer.ForwardEvent)
	notifiers = append(notifiers, apiServer.NotifyOperation)

	for _, f := range forwarders {
		dispatcher.Forward(f)
	}
	opsManager.SetNotifier(func(rec asyncop.Record) {
		for _, n := range notifiers {
			n(rec)
		}
	})

	// Discovery, event routing and rediscovery commands
	discoverer := discovery.New(registry, req, sched, sinks, endpointsFromConfig(cfg.Devices), discovery.Options{
		Concurrency: cfg.Discovery.Concurrency,
		ReceiverEID: cfg.Discovery.ReceiverEID,
	})
	discoverer.SetLogger(log.Component("discovery"))
	dispatcher.RegisterDefaults(req, discoverer)

	eventLog := log.Component("event")
	transportClient.SetOnEvent(func(eid uint8, msg []byte) {
		if handleErr := dispatcher.Handle(ctx, eid, msg); handleErr != nil {
			eventLog.Warn("event not handled", "eid", eid, "error", handleErr)
		}
	})

	if mqttClient != nil {
		topic := mqtt.Topics{}.AllRediscover()
		subErr := mqttClient.Subscribe(topic, 1, func(topic string, _ []byte) error {
			eid, parseErr := mqtt.ParseRediscover(topic)
			if parseErr != nil {
				return parseErr
			}
			go func() {
				if rdErr := discoverer.Rediscover(ctx, eid); rdErr != nil {
					log.Warn("rediscovery failed", "eid", eid, "error", rdErr)
				}
			}()
			return nil
		})
		if subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
	}

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	reporter.Start(ctx)
	defer func() {
		log.Info("stopping health reporter")
		reporter.Stop()
	}()

	if discoverErr := discoverer.DiscoverAll(ctx); discoverErr != nil {
		log.Warn("discovery incomplete", "error", discoverErr)
	}
	log.Info("discovery complete", "devices", registry.Len(), "endpoints", len(cfg.Devices))

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: health reporter, API server,
	// InfluxDB, MQTT publisher and client, async operations, polling,
	// requester, transport, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NSMD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NSMD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// endpointsFromConfig converts the configured endpoint table.
func endpointsFromConfig(devices []config.DeviceConfig) []discovery.Endpoint {
	endpoints := make([]discovery.Endpoint, 0, len(devices))
	for _, d := range devices {
		ep := discovery.Endpoint{EID: d.EID, UUID: d.UUID, Name: d.Name}
		for _, s := range d.Sensors {
			ep.Sensors = append(ep.Sensors, sensor.Spec{
				Name:              s.Name,
				Kind:              sensor.Kind(s.Kind),
				Tier:              s.Tier,
				SensorID:          s.SensorID,
				AveragingInterval: s.AveragingInterval,
				Property:          s.Property,
			})
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// issueToken prints a bearer token signed with the configured secret.
func issueToken(out io.Writer, cfg *config.Config, opts options) error {
	token, err := auth.GenerateToken(opts.issueToken, auth.Role(opts.role), cfg.Security.JWT.Secret, opts.tokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
