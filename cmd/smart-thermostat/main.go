// Command smart-thermostat runs hysteresis and PID controllers for one
// thermostat, fed by MQTT sensors and driving GPIO relays or MQTT actuators.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/smart-thermostat/internal/config"
	"github.com/sweeney/smart-thermostat/internal/metrics"
	"github.com/sweeney/smart-thermostat/internal/mqtt"
	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/store"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
	"github.com/sweeney/smart-thermostat/internal/web"
)

const (
	defaultConfigPath = "/etc/smart-thermostat/config.yaml"

	// shutdownTimeout bounds how long open web requests may delay exit.
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		broker     string
		httpAddr   string
	)

	rootCmd := &cobra.Command{
		Use:          "smart-thermostat",
		Short:        "thermostat controller daemon",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if broker != "" {
			cfg.Broker = broker
		}
		if httpAddr != "" {
			cfg.HTTPAddr = httpAddr
		}
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the control loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	runCmd.Flags().StringVar(&broker, "broker", "", "MQTT broker address (overrides config)")
	runCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP status address (overrides config)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return describe(cmd.OutOrStdout(), cfg)
		},
	}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "print persisted controller attributes and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), cfg)
		},
	}

	rootCmd.AddCommand(runCmd, validateCmd, stateCmd)
	return rootCmd
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

func describe(w io.Writer, cfg *config.Config) error {
	fmt.Fprintf(w, "config ok: %s (%s), hvac_mode=%s\n", cfg.EntityID, cfg.Name, cfg.HVACMode)
	for _, cc := range cfg.Controllers {
		fmt.Fprintf(w, "  controller %s: %s %s -> %s\n", cc.Name, cc.Type, cc.Mode, cc.Target)
	}
	for _, a := range cfg.Actuators {
		fmt.Fprintf(w, "  actuator %s: %s\n", a.ID, a.Driver)
	}
	return nil
}

func printState(w io.Writer, cfg *config.Config) error {
	if cfg.StateFile == "" {
		return errors.New("no state_file configured")
	}
	st, err := store.Open(cfg.StateFile)
	if err != nil {
		return err
	}
	return yaml.NewEncoder(w).Encode(map[string]any{"controllers": st.All()})
}

func run(cfg *config.Config) error {
	st, err := store.Open(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	topics := mqtt.NewTopics(cfg.TopicPrefix, cfg.EntityID)
	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		WillTopic:   topics.System(),
		WillPayload: mqtt.WillPayload(cfg.EntityID),
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		EntityID:  cfg.EntityID,
		Name:      cfg.Name,
		Broker:    cfg.Broker,
		HTTPAddr:  cfg.HTTPAddr,
		StateFile: cfg.StateFile,
		KeepAlive: cfg.KeepAlive,
		Heartbeat: cfg.Heartbeat,
	})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	drivers, err := thermostat.BuildDrivers(cfg, client, topics, thermostat.OpenGPIO)
	if err != nil {
		return fmt.Errorf("init actuators: %w", err)
	}

	pub := &publisher{client: client, topics: topics, tracker: tracker, entityID: cfg.EntityID}
	host, err := thermostat.New(cfg, thermostat.Deps{
		Store:    st,
		Drivers:  drivers,
		Tracker:  tracker,
		Metrics:  m,
		OnUpdate: func() { pub.status("", "") },
	})
	if err != nil {
		return fmt.Errorf("init thermostat: %w", err)
	}

	queue := thermostat.NewQueue(64)
	if err := thermostat.Subscribe(client, topics, queue); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pub.system(time.Now(), "STARTUP", "")

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, queue, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer stopServer(srv, shutdownTimeout)
		log.Infof("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Infof("started: entity=%s broker=%s keep_alive=%v heartbeat=%v controllers=%d",
		cfg.EntityID, cfg.Broker, cfg.KeepAlive, cfg.Heartbeat, len(cfg.Controllers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(context.Background(), loop{
		host:      host,
		requests:  queue.C(),
		keepAlive: tickerC(cfg.KeepAlive),
		heartbeat: tickerC(cfg.Heartbeat),
		sig:       sigCh,
		pub:       pub,
		now:       time.Now,
	})
}

// stopServer shuts srv down after the run loop has exited. Requests still
// waiting on the loop never get a reply, so they are cut off after timeout.
func stopServer(srv *web.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
}

// tickerC returns a ticker channel, or nil (never fires) for d <= 0.
func tickerC(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.NewTicker(d).C
}

// loop holds what the run loop selects on.
type loop struct {
	host      *thermostat.Host
	requests  <-chan thermostat.Request
	keepAlive <-chan time.Time
	heartbeat <-chan time.Time
	sig       <-chan os.Signal
	pub       *publisher
	now       func() time.Time
}

// runLoop is the only goroutine that touches the host.
func runLoop(ctx context.Context, l loop) error {
	for {
		select {
		case s := <-l.sig:
			reason := signalName(s)
			log.Infof("received %v, shutting down", s)
			if err := l.host.Close(ctx); err != nil {
				log.WithError(err).Warn("error releasing actuators")
			}
			l.pub.system(l.now(), "SHUTDOWN", reason)
			l.pub.status("SHUTDOWN", reason)
			return nil

		case req := <-l.requests:
			err := l.host.Apply(ctx, req)
			if err != nil {
				log.WithError(err).WithField("request", req.Kind).Warn("request rejected")
			}
			req.Done(err)

		case <-l.keepAlive:
			l.host.KeepAlive(ctx)

		case <-l.heartbeat:
			log.Debug("heartbeat")
			l.pub.system(l.now(), "HEARTBEAT", "")
			l.pub.status("HEARTBEAT", "")
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// publisher sends lifecycle events and status snapshots to MQTT.
// Publish failures are logged, never fatal.
type publisher struct {
	client   mqtt.Client
	topics   mqtt.Topics
	tracker  *status.Tracker
	entityID string
}

func (p *publisher) system(ts time.Time, event, reason string) {
	payload, err := mqtt.FormatSystemPayload(mqtt.SystemEvent{
		Timestamp: ts,
		Event:     event,
		Reason:    reason,
		EntityID:  p.entityID,
	})
	if err != nil {
		log.WithError(err).Warn("format system event")
		return
	}
	if err := p.client.Publish(p.topics.System(), 1, true, payload); err != nil {
		log.WithError(err).Warnf("failed to publish %s event", event)
		return
	}
	log.Debugf("published %s event", event)
}

func (p *publisher) status(event, reason string) {
	p.tracker.SetMQTTConnected(p.client.IsConnected())
	payload := status.FormatStatusEvent(p.tracker.Snapshot(), event, reason)
	if err := p.client.Publish(p.topics.Status(), 0, true, payload); err != nil {
		log.WithError(err).Warn("failed to publish status")
	}
}
