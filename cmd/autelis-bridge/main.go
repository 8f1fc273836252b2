// Autelis Bridge - Pool Control device-state sync
//
// This is the main entry point for the bridge. It polls an Autelis Pool
// Control appliance, mirrors its equipment and temperatures as nodes, and
// relays commands from MQTT and the REST API back to the appliance.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/autelis-bridge/migrations"

	"github.com/nerrad567/autelis-bridge/internal/api"
	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/database"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/autelis-bridge/internal/metrics"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "AUTELIS_CONFIG"

	// shutdownTimeout bounds the whole shutdown sequence.
	shutdownTimeout = 15 * time.Second
)

// configFlag is set from -config in main.
var configFlag string

func main() {
	flag.StringVar(&configFlag, "config", "", "path to the configuration file (overrides "+configEnvVar+")")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Autelis bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database and history (optional)
	var (
		db       *database.DB
		repo     *history.Repository
		recorder *history.Recorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo = history.NewRepository(db.DB)
		recorder = history.NewRecorder(history.RecorderOptions{
			Repository: repo,
			Retention:  time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour,
			Logger:     log.Component("history"),
		})
		recorder.Start(ctx)
		defer recorder.Stop()
	} else {
		log.Info("database disabled, history not recorded")
	}

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event sinks. Only non-nil sinks go into the fan-out.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hosts := []autelis.Host{hub, collector}
	observers := []autelis.Observer{collector}
	if recorder != nil {
		hosts = append(hosts, recorder)
		observers = append(observers, recorder)
	}
	if influxClient != nil {
		sink := &influxSink{writer: influxClient}
		hosts = append(hosts, sink)
		observers = append(observers, sink)
	}

	client, err := autelis.NewClient(autelis.ClientConfig{
		Address:        cfg.Autelis.IPAddress,
		Username:       cfg.Autelis.Username,
		Password:       cfg.Autelis.Password,
		PollInterval:   cfg.GetPollInterval(),
		RequestTimeout: cfg.Autelis.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating appliance client: %w", err)
	}
	client.SetLogger(log.Component("autelis-client"))

	engineOpts := autelis.EngineOptions{
		Client:         client,
		Host:           autelis.Hosts(hosts...),
		Observer:       autelis.Observers(observers...),
		Logger:         log.Component("engine"),
		PollInterval:   cfg.GetPollInterval(),
		IgnoreSolar:    cfg.Autelis.IgnoreSolar,
		SettleWindow:   cfg.Autelis.SettleWindow,
		CommandTimeout: cfg.GetCommandTimeout(),
		DegradedAfter:  cfg.Autelis.DegradedAfter,
	}

	// Synchronisation engine, behind MQTT when enabled
	var (
		engine     *autelis.Engine
		gateway    *autelis.Gateway
		mqttClient *mqtt.Client
		stopEngine func()
	)
	if cfg.MQTT.Enabled {
		var bridge *autelis.Bridge
		mqttClient, bridge, err = startBridge(ctx, cfg, engineOpts, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		engine, gateway, stopEngine = bridge.Engine(), bridge.Gateway(), bridge.Stop
	} else {
		engine, err = autelis.NewEngine(engineOpts)
		if err != nil {
			return fmt.Errorf("creating engine: %w", err)
		}
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		gateway, stopEngine = autelis.NewGateway(engine), engine.Stop
		log.Info("MQTT disabled, engine running without a broker")
	}

	// REST API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Metrics:     cfg.Metrics,
			Logger:      log.Component("api"),
			Nodes:       engine.Registry(),
			Status:      engine,
			Commands:    gateway,
			Gatherer:    registry,
			Hub:         hub,
			CommandWait: cfg.GetCommandTimeout() + cfg.GetPollInterval(),
			Version:     version,
		}
		if repo != nil {
			deps.History = repo
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		apiServer, err = api.New(deps)
		if err != nil {
			stopEngine()
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			stopEngine()
			return fmt.Errorf("starting API server: %w", err)
		}
	} else {
		log.Info("REST API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("startup health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := shutdown(stopEngine, apiServer); err != nil {
		log.Error("shutdown error", "error", err)
	}

	// Deferred closes run in reverse order: MQTT, InfluxDB, recorder, database.
	log.Info("Autelis bridge stopped")
	return nil
}

// startBridge connects to the broker with the offline LWT and starts the
// MQTT bridge around a new engine.
func startBridge(ctx context.Context, cfg *config.Config, engineOpts autelis.EngineOptions, log *logging.Logger) (*mqtt.Client, *autelis.Bridge, error) {
	lwt, err := json.Marshal(autelis.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return nil, nil, fmt.Errorf("encoding LWT: %w", err)
	}

	client, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(mqtt.Will{Topic: autelis.HealthTopic(), Payload: lwt, QoS: 1}),
		mqtt.WithLogger(log.Component("mqtt")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	bridge, err := autelis.NewBridge(autelis.BridgeOptions{
		BridgeID:         cfg.Bridge.ID,
		Version:          version,
		ApplianceAddress: cfg.Autelis.IPAddress,
		HealthInterval:   cfg.GetHealthInterval(),
		RequestTimeout:   cfg.Autelis.RequestTimeout,
		MQTTClient:       &mqttBridgeAdapter{client: client},
		Engine:           engineOpts,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("Autelis bridge started", "bridge_id", cfg.Bridge.ID, "appliance", cfg.Autelis.IPAddress)

	return client, bridge, nil
}

// shutdown stops the API server and the engine concurrently.
func shutdown(stopEngine func(), apiServer *api.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)
	if apiServer != nil {
		g.Go(apiServer.Close)
	}
	if stopEngine != nil {
		g.Go(func() error {
			stopEngine()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}

// getConfigPath returns the configuration file path: the -config flag,
// then AUTELIS_CONFIG, then the default.
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the enabled infrastructure connections.
// Any client may be nil when its component is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// brokerClient is the subset of the infrastructure MQTT client the adapter uses.
type brokerClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Autelis bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client brokerClient
}

// Publish implements autelis.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements autelis.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements autelis.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// influxWriter is the subset of the InfluxDB client the sink uses.
type influxWriter interface {
	WriteNodeState(nodeID, class string, fields map[string]any, ts time.Time)
	WriteController(runState, opMode, lowBattery int, batteryVolts float64, ts time.Time)
	WritePoll(duration time.Duration, ok bool)
}

// influxSink writes confirmed node values, controller status and poll
// timings to InfluxDB. Writes are non-blocking.
type influxSink struct {
	autelis.NopHost
	writer influxWriter
}

func (s *influxSink) ReportNodeState(_ context.Context, id string, class autelis.CapabilityClass, value autelis.Value) error {
	s.writer.WriteNodeState(id, string(class), value.Fields(class), time.Now())
	return nil
}

func (s *influxSink) ReportController(_ context.Context, status autelis.SystemStatus) error {
	s.writer.WriteController(status.RunState, status.OpMode, status.LowBattery, status.BatteryVolts, time.Now())
	return nil
}

func (s *influxSink) PollCompleted(d time.Duration, err error) {
	s.writer.WritePoll(d, err == nil)
}

func (s *influxSink) CommandFinished(string, string) {}
