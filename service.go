package fleet

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/twisp/fleet-go/poll"
	"github.com/twisp/fleet-go/token"
)

// Service is the driver and consumer facing layer over a provider Backend.
type Service struct {
	backend  Backend
	vehicles *poll.Source[*Vehicle]
	trips    *poll.Source[*Trip]
}

var _ token.Fetcher = (*Service)(nil)

func NewService(backend Backend, opts ...poll.Option) *Service {
	return &Service{
		backend:  backend,
		vehicles: poll.NewSource("vehicle", backend.GetVehicle, opts...),
		trips:    poll.NewSource("trip", backend.GetTrip, opts...),
	}
}

// Fetch implements token.Fetcher. Providers that omit expirationTimestamp
// get the expiry from the JWT itself.
func (s *Service) Fetch(ctx context.Context, vehicleID string) (token.Token, error) {
	resp, err := s.backend.FetchToken(ctx, vehicleID)
	if err != nil {
		return token.Token{}, fmt.Errorf("fetch auth token for vehicle %s: %w", vehicleID, err)
	}
	if resp.JWT == "" {
		return token.Token{}, fmt.Errorf("fetch auth token for vehicle %s: empty jwt", vehicleID)
	}

	if resp.ExpirationTimestamp > 0 {
		return token.Token{Value: resp.JWT, ExpiresAt: time.UnixMilli(resp.ExpirationTimestamp)}, nil
	}
	exp, err := token.ExpiryFromJWT(resp.JWT)
	if err != nil {
		return token.Token{}, fmt.Errorf("fetch auth token for vehicle %s: %w", vehicleID, err)
	}
	return token.Token{Value: resp.JWT, ExpiresAt: exp}, nil
}

// RegisterVehicle returns the vehicle, creating it with default settings if
// the provider does not know it yet.
func (s *Service) RegisterVehicle(ctx context.Context, vehicleID string) (*Vehicle, error) {
	vehicle, err := s.backend.GetVehicle(ctx, vehicleID)
	if err == nil {
		return vehicle, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("register vehicle %s: %w", vehicleID, err)
	}

	klog.FromContext(ctx).Info("Vehicle not found, creating it", "vehicle", vehicleID)
	vehicle, err = s.backend.CreateVehicle(ctx, DefaultVehicleSettings(vehicleID))
	if err != nil {
		return nil, fmt.Errorf("create vehicle %s after not finding it: %w", vehicleID, err)
	}
	return vehicle, nil
}

func (s *Service) CreateOrUpdateVehicle(ctx context.Context, settings *VehicleSettings) (*Vehicle, error) {
	vehicle, err := s.backend.UpdateVehicle(ctx, settings.VehicleID, settings)
	if err == nil {
		return vehicle, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("update vehicle %s: %w", settings.VehicleID, err)
	}

	vehicle, err = s.backend.CreateVehicle(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("create vehicle %s during update: %w", settings.VehicleID, err)
	}
	return vehicle, nil
}

// UpdateTripStatus pushes the trip status. The intermediate destination index
// is only meaningful while heading to an intermediate destination.
func (s *Service) UpdateTripStatus(ctx context.Context, state TripState) (*Trip, error) {
	update := &TripUpdate{Status: state.Status}
	if state.Status == TripStatusEnrouteToIntermediateDestination {
		idx := state.IntermediateDestinationIndex
		update.IntermediateDestinationIndex = &idx
	}

	trip, err := s.backend.UpdateTrip(ctx, state.TripID, update)
	if err != nil {
		return nil, fmt.Errorf("update status of trip %s: %w", state.TripID, err)
	}
	klog.FromContext(ctx).V(2).Info("Updated trip", "trip", state.TripID, "status", state.Status)
	return trip, nil
}

func (s *Service) CreateTrip(ctx context.Context, req *CreateTripRequest) (*Trip, error) {
	trip, err := s.backend.CreateTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	klog.FromContext(ctx).V(2).Info("Created trip", "trip", trip.Name)
	return trip, nil
}

// SearchTrips collects every page of results. The request's PageToken is
// used as the starting point.
func (s *Service) SearchTrips(ctx context.Context, req SearchTripsRequest) ([]Trip, error) {
	var trips []Trip
	for {
		resp, err := s.backend.SearchTrips(ctx, &req)
		if err != nil {
			return nil, fmt.Errorf("search trips for vehicle %s: %w", req.VehicleID, err)
		}
		trips = append(trips, resp.Trips...)
		if resp.NextPageToken == "" {
			return trips, nil
		}
		if resp.NextPageToken == req.PageToken {
			return nil, fmt.Errorf("search trips for vehicle %s: provider repeated page token %q", req.VehicleID, req.PageToken)
		}
		req.PageToken = resp.NextPageToken
	}
}

// VehicleUpdates polls the vehicle until the subscription is stopped.
func (s *Service) VehicleUpdates(ctx context.Context, vehicleID string) *poll.Subscription[*Vehicle] {
	return s.vehicles.Poll(ctx, vehicleID)
}

// TripUpdates polls the trip until the subscription is stopped.
func (s *Service) TripUpdates(ctx context.Context, tripID string) *poll.Subscription[*Trip] {
	return s.trips.Poll(ctx, tripID)
}
