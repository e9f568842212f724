package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/fleetlab/gps-fleet-simulator/internal/config"
	"github.com/fleetlab/gps-fleet-simulator/internal/sim"
	"github.com/fleetlab/gps-fleet-simulator/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet configuration file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := log.ParseLevel(cfg.Simulator.LogLevel); err == nil {
		log.SetLevel(level)
	}

	submitter, closeSink, err := buildSubmitter(cfg.Simulator)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up telemetry sink")
	}
	defer closeSink()

	manager := sim.NewManager(submitter)
	if cfg.Simulator.Seed != 0 {
		manager.Seed = cfg.Simulator.Seed
	}
	manager.StartStagger = time.Duration(cfg.Simulator.StartStaggerS) * time.Second

	for _, rc := range cfg.Routes {
		r, err := rc.BuildRoute()
		if err != nil {
			log.WithError(err).WithField("route_id", rc.RouteID).Fatal("Invalid route")
		}
		manager.AddRoute(r)
		log.WithFields(log.Fields{
			"route_id":    r.ID(),
			"waypoints":   r.WaypointCount(),
			"stops":       len(r.Stops()),
			"distance_km": r.TotalDistance() / 1000,
		}).Info("Route loaded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	added := 0
	for _, vc := range cfg.Vehicles {
		if _, err := manager.AddVehicle(ctx, vc.ToModel(), nil); err != nil {
			log.WithError(err).WithField("vehicle_id", vc.VehicleID).Error("Failed to add vehicle")
			continue
		}
		added++
	}
	if added == 0 {
		log.Fatal("No vehicles added; check the configuration and backend availability")
	}

	manager.StartAll(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutting down")

	cancel()
	manager.StopAll()
}

func buildSubmitter(cfg config.SimulatorConfig) (telemetry.Submitter, func(), error) {
	switch cfg.Sink {
	case "mqtt":
		s, err := telemetry.NewMQTTSubmitter(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("broker", cfg.MQTTBroker).Info("Publishing telemetry over MQTT")
		return s, s.Close, nil
	default:
		token := cfg.AuthToken
		if env := os.Getenv("SIM_AUTH_TOKEN"); env != "" {
			token = env
		}
		log.WithField("api_url", cfg.APIBaseURL).Info("Publishing telemetry over HTTP")
		return telemetry.NewHTTPSubmitter(cfg.APIBaseURL, token), func() {}, nil
	}
}
