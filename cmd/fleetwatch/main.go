package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	fleet "github.com/twisp/fleet-go"
	"github.com/twisp/fleet-go/metrics"
	"github.com/twisp/fleet-go/poll"
	"github.com/twisp/fleet-go/token"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		klog.ErrorS(err, "fleetwatch failed")
		klog.Flush()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &Config{}
	var configPath string
	var logger *zap.Logger

	rootCmd := &cobra.Command{
		Use:          "fleetwatch",
		Short:        "Inspect vehicles and trips of a fleet provider",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := mergeFile(cfg, configPath, cmd.Flags()); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var err error
			if cfg.LogDevelopment {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			klog.SetLogger(zapr.NewLogger(logger))
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	addFlags(rootCmd.PersistentFlags(), cfg)

	rootCmd.AddCommand(newTokenCommand(cfg), newRegisterCommand(cfg), newTripsCommand(cfg), newWatchCommand(cfg))
	return rootCmd
}

func newService(cfg *Config) (*fleet.Service, error) {
	var opts []fleet.ClientOption
	if cfg.AWSRegion != "" {
		opts = append(opts, fleet.WithSigV4(credentials.NewEnvCredentials(), cfg.AWSRegion))
	}
	client, err := fleet.NewClient(cfg.ProviderURL, opts...)
	if err != nil {
		return nil, err
	}
	pollOpt := poll.WithInterval(cfg.PollInterval.Duration)
	if cfg.BearerVehicle == "" {
		return fleet.NewService(client, pollOpt), nil
	}

	// Tokens come from the unauthorized client; everything else carries the
	// bearer token of cfg.BearerVehicle.
	cache := token.NewCache(fleet.NewService(client, pollOpt), token.WithSkew(cfg.TokenSkew.Duration))
	authorized, err := fleet.NewClient(cfg.ProviderURL, fleet.WithHTTPClient(&http.Client{
		Transport: fleet.NewRoundTripper(cache, cfg.BearerVehicle, nil),
	}))
	if err != nil {
		return nil, err
	}
	return fleet.NewService(authorized, pollOpt), nil
}

func requireVehicles(cfg *Config) error {
	if len(cfg.VehicleIDs) == 0 {
		return fmt.Errorf("at least one vehicle-id required")
	}
	return nil
}

func newTokenCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an auth token for each vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireVehicles(cfg); err != nil {
				return err
			}
			service, err := newService(cfg)
			if err != nil {
				return err
			}

			cache := token.NewCache(service, token.WithSkew(cfg.TokenSkew.Duration))
			for _, id := range cfg.VehicleIDs {
				jwt := cache.Token(cmd.Context(), id)
				if jwt == "" {
					return fmt.Errorf("no auth token for vehicle %s", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, jwt)
			}
			return nil
		},
	}
}

func newRegisterCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register each vehicle, creating the ones the provider does not know",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireVehicles(cfg); err != nil {
				return err
			}
			service, err := newService(cfg)
			if err != nil {
				return err
			}

			out := newEventWriter(cmd.OutOrStdout())
			for _, id := range cfg.VehicleIDs {
				vehicle, err := service.RegisterVehicle(cmd.Context(), id)
				if err != nil {
					return err
				}
				if err := out.write("vehicle", id, vehicle); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newTripsCommand(cfg *Config) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "trips",
		Short: "List the trips assigned to each vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireVehicles(cfg); err != nil {
				return err
			}
			service, err := newService(cfg)
			if err != nil {
				return err
			}

			out := newEventWriter(cmd.OutOrStdout())
			for _, id := range cfg.VehicleIDs {
				trips, err := service.SearchTrips(cmd.Context(), fleet.SearchTripsRequest{
					VehicleID:       id,
					ActiveTripsOnly: !all,
				})
				if err != nil {
					return err
				}
				for i := range trips {
					if err := out.write("trip", id, &trips[i]); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include completed and canceled trips")
	return cmd
}

func newWatchCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll vehicles and trips and print every snapshot as a JSON line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(cfg.VehicleIDs) == 0 && len(cfg.TripIDs) == 0 {
				return fmt.Errorf("at least one vehicle-id or trip-id required")
			}
			service, err := newService(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cfg, service, newEventWriter(cmd.OutOrStdout()))
		},
	}
}

func watch(ctx context.Context, cfg *Config, service *fleet.Service, out *eventWriter) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return err
		}
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	for _, id := range cfg.VehicleIDs {
		sub := service.VehicleUpdates(ctx, id)
		g.Go(func() error {
			return drain(sub, func(v *fleet.Vehicle) error { return out.write("vehicle", id, v) })
		})
	}
	for _, id := range cfg.TripIDs {
		sub := service.TripUpdates(ctx, id)
		g.Go(func() error {
			return drain(sub, func(t *fleet.Trip) error { return out.write("trip", id, t) })
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func drain[T any](sub *poll.Subscription[T], emit func(T) error) error {
	for v := range sub.C() {
		if err := emit(v); err != nil {
			sub.Stop()
			return err
		}
	}
	<-sub.Done()
	return sub.Err()
}

type eventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventWriter(w io.Writer) *eventWriter {
	return &eventWriter{enc: json.NewEncoder(w)}
}

func (w *eventWriter) write(kind, id string, state any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(struct {
		Kind  string `json:"kind"`
		ID    string `json:"id"`
		State any    `json:"state"`
	}{kind, id, state})
}
