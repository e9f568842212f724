package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fleetlab/gps-fleet-simulator/internal/geo"
	"github.com/fleetlab/gps-fleet-simulator/internal/models"
	"github.com/fleetlab/gps-fleet-simulator/internal/route"
)

// Defaults matching the original Mae Chan fleet.
const (
	DefaultSpeedKmh        = 25.0
	DefaultIntervalSeconds = 3
	DefaultStopSeconds     = 10
)

// WaypointConfig is one point of a configured route.
type WaypointConfig struct {
	Lat  float64 `mapstructure:"lat"`
	Lon  float64 `mapstructure:"lon"`
	Name string  `mapstructure:"name"`
	Stop bool    `mapstructure:"stop"`
}

// RouteConfig defines a named route.
type RouteConfig struct {
	RouteID      string           `mapstructure:"route_id"`
	Name         string           `mapstructure:"name"`
	DecimateStep int              `mapstructure:"decimate_step"`
	Waypoints    []WaypointConfig `mapstructure:"waypoints"`
}

// VehicleConfig defines one simulated vehicle. Durations are in seconds in
// the file; ToModel converts them.
type VehicleConfig struct {
	VehicleID        string  `mapstructure:"vehicle_id"`
	DriverName       string  `mapstructure:"driver_name"`
	VehicleType      string  `mapstructure:"vehicle_type"`
	RouteID          string  `mapstructure:"route_id"`
	Capacity         int     `mapstructure:"capacity"`
	SpeedKmh         float64 `mapstructure:"speed_kmh"`
	UpdateIntervalS  int     `mapstructure:"update_interval_seconds"`
	StopDurationS    int     `mapstructure:"stop_duration_seconds"`
	LoopPauseSeconds int     `mapstructure:"loop_pause_seconds"`
	Loop             bool    `mapstructure:"loop"`
}

// SimulatorConfig holds sink selection and global simulation settings.
type SimulatorConfig struct {
	Sink          string `mapstructure:"sink"` // "http" or "mqtt"
	APIBaseURL    string `mapstructure:"api_base_url"`
	AuthToken     string `mapstructure:"auth_token"`
	MQTTBroker    string `mapstructure:"mqtt_broker"`
	MQTTClientID  string `mapstructure:"mqtt_client_id"`
	StartStaggerS int    `mapstructure:"start_stagger_seconds"`
	Seed          int64  `mapstructure:"seed"`
	LogLevel      string `mapstructure:"log_level"`
}

// AppConfig is the whole configuration file.
type AppConfig struct {
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Routes    []RouteConfig   `mapstructure:"routes"`
	Vehicles  []VehicleConfig `mapstructure:"vehicles"`
}

// Load reads the YAML config at path, with environment variables overriding
// file values (dots become underscores, e.g. SIMULATOR_API_BASE_URL).
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("simulator.sink", "http")
	v.SetDefault("simulator.api_base_url", "http://localhost:8000")
	v.SetDefault("simulator.mqtt_client_id", "gps-fleet-simulator")
	v.SetDefault("simulator.log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ToModel converts a configured vehicle into the runtime config, filling in
// fleet defaults for anything left unset.
func (c VehicleConfig) ToModel() models.VehicleConfig {
	out := models.VehicleConfig{
		VehicleID:      c.VehicleID,
		DriverName:     c.DriverName,
		VehicleType:    c.VehicleType,
		RouteID:        c.RouteID,
		Capacity:       c.Capacity,
		SpeedKmh:       c.SpeedKmh,
		UpdateInterval: time.Duration(c.UpdateIntervalS) * time.Second,
		StopDuration:   time.Duration(c.StopDurationS) * time.Second,
		LoopPause:      time.Duration(c.LoopPauseSeconds) * time.Second,
		Loop:           c.Loop,
	}
	if out.SpeedKmh <= 0 {
		out.SpeedKmh = DefaultSpeedKmh
	}
	if out.UpdateInterval <= 0 {
		out.UpdateInterval = DefaultIntervalSeconds * time.Second
	}
	if out.StopDuration <= 0 {
		out.StopDuration = DefaultStopSeconds * time.Second
	}
	return out
}

// BuildRoute turns a configured route into an immutable route, applying the
// optional waypoint decimation first.
func (c RouteConfig) BuildRoute() (*route.Route, error) {
	waypoints := make([]route.Waypoint, 0, len(c.Waypoints))
	for _, w := range c.Waypoints {
		waypoints = append(waypoints, route.Waypoint{
			Coordinate: geo.Coordinate{Lat: w.Lat, Lon: w.Lon},
			StopName:   w.Name,
			IsStop:     w.Stop,
		})
	}
	waypoints = route.Decimate(waypoints, c.DecimateStep)
	return route.Build(c.RouteID, c.Name, waypoints)
}
