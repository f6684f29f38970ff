package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/twisp/fleet-go/poll"
	"github.com/twisp/fleet-go/token"
)

// Config is shared by all subcommands. It can be given as flags, as a YAML
// file (--config), or both; flags win.
type Config struct {
	ProviderURL    string          `json:"providerURL"`
	VehicleIDs     []string        `json:"vehicleIDs,omitempty"`
	TripIDs        []string        `json:"tripIDs,omitempty"`
	PollInterval   metav1.Duration `json:"pollInterval,omitempty"`
	TokenSkew      metav1.Duration `json:"tokenSkew,omitempty"`
	AWSRegion      string          `json:"awsRegion,omitempty"`
	BearerVehicle  string          `json:"bearerVehicleID,omitempty"`
	MetricsAddr    string          `json:"metricsAddr,omitempty"`
	LogDevelopment bool            `json:"logDevelopment,omitempty"`
}

func addFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ProviderURL, "provider-url", "", "Base URL of the provider backend (required)")
	fs.StringSliceVar(&cfg.VehicleIDs, "vehicle-id", nil, "Vehicle id, may be repeated")
	fs.StringSliceVar(&cfg.TripIDs, "trip-id", nil, "Trip id, may be repeated")
	fs.DurationVar(&cfg.PollInterval.Duration, "poll-interval", poll.DefaultInterval, "Pause between polling cycles")
	fs.DurationVar(&cfg.TokenSkew.Duration, "token-skew", token.DefaultSkew, "Margin subtracted from token expiry")
	fs.StringVar(&cfg.AWSRegion, "aws-region", "", "Sign provider requests with SigV4 for this region using AWS_* environment credentials")
	fs.StringVar(&cfg.BearerVehicle, "bearer-vehicle-id", "", "Authorize provider requests with the auth token issued for this vehicle")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	fs.BoolVar(&cfg.LogDevelopment, "log-development", false, "Human readable development logging")
}

// mergeFile fills every field not set on the command line from the YAML file
// at path.
func mergeFile(cfg *Config, path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var file Config
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fields := []struct {
		flag  string
		set   bool
		apply func()
	}{
		{"provider-url", file.ProviderURL != "", func() { cfg.ProviderURL = file.ProviderURL }},
		{"vehicle-id", len(file.VehicleIDs) > 0, func() { cfg.VehicleIDs = file.VehicleIDs }},
		{"trip-id", len(file.TripIDs) > 0, func() { cfg.TripIDs = file.TripIDs }},
		{"poll-interval", file.PollInterval.Duration != 0, func() { cfg.PollInterval = file.PollInterval }},
		{"token-skew", file.TokenSkew.Duration != 0, func() { cfg.TokenSkew = file.TokenSkew }},
		{"aws-region", file.AWSRegion != "", func() { cfg.AWSRegion = file.AWSRegion }},
		{"bearer-vehicle-id", file.BearerVehicle != "", func() { cfg.BearerVehicle = file.BearerVehicle }},
		{"metrics-addr", file.MetricsAddr != "", func() { cfg.MetricsAddr = file.MetricsAddr }},
		{"log-development", file.LogDevelopment, func() { cfg.LogDevelopment = file.LogDevelopment }},
	}
	for _, f := range fields {
		if f.set && !fs.Changed(f.flag) {
			f.apply()
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("provider-url required")
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll-interval must be > 0, got %s", c.PollInterval.Duration)
	}
	if c.TokenSkew.Duration < 0 {
		return fmt.Errorf("token-skew must not be negative, got %s", c.TokenSkew.Duration)
	}
	if c.AWSRegion != "" && c.BearerVehicle != "" {
		return fmt.Errorf("aws-region and bearer-vehicle-id both set the Authorization header, pick one")
	}
	return nil
}
