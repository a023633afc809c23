package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/alert"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/gateway"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/gateways/cloud"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/gateways/cloud/network"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/logging"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/processor"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/protocol"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/registry"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/session"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/storage"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/transport"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config/gateway.yaml", "Path to the gateway configuration file")
	jsonLogs := flag.Bool("json-logs", false, "Emit one JSON object per log line")
	flag.Parse()

	config, err := utils.LoadGatewayConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logs := logging.NewLogrus(config.Log.Level, os.Stdout)
	if *jsonLogs {
		logs = logging.NewJSONLogrus(config.Log.Level, os.Stdout)
	}
	logger := logs.Get("Main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(config.Storage.DatabasePath)
	if err != nil {
		logger.Fatal(err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		logger.Fatal(err)
	}

	var messaging network.Messaging
	var publisher network.Publisher
	var syncer processor.Syncer
	if config.Cloud.Enabled {
		service, amqp, err := cloud.NewAMQPSyncService(config.Cloud, logs.Get("CloudSync"))
		if err != nil {
			logger.Fatal(err)
		}
		defer service.Close()
		messaging = amqp
		syncer = service
		publisher = network.NewMsgPublisher(messaging)
		logger.Infof("Cloud sync enabled on %s", config.Cloud.URL)
	}

	sensors, err := registry.New(config.Registry.FilePath, publisher, config.Cloud.UserToken, logs.Get("SensorRegistry"))
	if err != nil {
		logger.Fatal(err)
	}
	if messaging != nil {
		updates := make(chan network.InMsg)
		if err := network.NewMsgSubscriber(messaging).SubscribeToSensorUpdates(updates); err != nil {
			logger.WithError(err).Warn("Sensor updates from the cloud are disabled")
		} else {
			go sensors.ListenForUpdates(ctx, updates)
		}
	}

	alerts := alert.MultiSink{alert.NewLogSink(logs.Get("Alerts"))}
	if config.Alerts.Broker != "" {
		mqttSink, err := alert.NewMQTTSink(config.Alerts, logs.Get("MQTTAlerts"))
		if err != nil {
			logger.Fatal(err)
		}
		defer mqttSink.Close()
		alerts = append(alerts, mqttSink)
	}

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats := processor.NewStats()
	if err := stats.Register(registerer); err != nil {
		logger.Fatal(err)
	}
	packetProcessor := processor.New(store, sensors, syncer, alerts, logs.Get("PacketProcessor"),
		processor.WithAlertWindow(config.Processor.AlertWindow),
		processor.WithStats(stats))

	connector, err := transport.NewConnector(config.Transport)
	if err != nil {
		logger.Fatal(err)
	}
	parser, err := protocol.NewPacketParser(config.Parser.MaxBufferSize, logs.Get("PacketParser"))
	if err != nil {
		logger.Fatal(err)
	}
	owner := session.New(config.Session.AggregatorID)
	if _, ok := owner.OwnerID(); !ok {
		logger.Warn("No aggregator id configured, packets will be dropped until one signs in")
	}
	gw := gateway.New(connector, parser, packetProcessor, owner, config.Transport.DeviceAddress, logs.Get("Gateway"),
		gateway.WithPool(config.Processor.Workers, config.Processor.QueueSize),
		gateway.WithRegisterer(registerer))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	mux.Handle("/status", gateway.NewStatusReporter(gw, stats, sensors, store, logs.Get("Status")))
	server := &http.Server{Addr: config.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	logger.Infof("Metrics listening on %s", config.Metrics.Address)

	logger.Infof("Receiving packets from %s", connector.Address())
	if err := gw.Run(ctx); err != nil {
		logger.WithError(err).Error("Gateway stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown failed")
	}
}

