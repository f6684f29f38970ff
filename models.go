package fleet

// TripStatus mirrors the trip states the provider understands.
type TripStatus string

const (
	TripStatusNew                              TripStatus = "NEW"
	TripStatusEnrouteToPickup                  TripStatus = "ENROUTE_TO_PICKUP"
	TripStatusArrivedAtPickup                  TripStatus = "ARRIVED_AT_PICKUP"
	TripStatusEnrouteToIntermediateDestination TripStatus = "ENROUTE_TO_INTERMEDIATE_DESTINATION"
	TripStatusArrivedAtIntermediateDestination TripStatus = "ARRIVED_AT_INTERMEDIATE_DESTINATION"
	TripStatusEnrouteToDropoff                 TripStatus = "ENROUTE_TO_DROPOFF"
	TripStatusComplete                         TripStatus = "COMPLETE"
	TripStatusCanceled                         TripStatus = "CANCELED"
)

// TokenResponse is returned by the provider's token endpoint. Timestamps are
// epoch milliseconds.
type TokenResponse struct {
	JWT                 string `json:"jwt"`
	CreationTimestamp   int64  `json:"creationTimestamp,omitempty"`
	ExpirationTimestamp int64  `json:"expirationTimestamp,omitempty"`
}

type Vehicle struct {
	Name               string   `json:"name"`
	VehicleState       string   `json:"vehicleState,omitempty"`
	SupportedTripTypes []string `json:"supportedTripTypes,omitempty"`
	CurrentTripIDs     []string `json:"currentTripsIds,omitempty"`
	MaximumCapacity    int      `json:"maximumCapacity,omitempty"`
	BackToBackEnabled  bool     `json:"backToBackEnabled,omitempty"`
}

type VehicleSettings struct {
	VehicleID          string   `json:"vehicleId"`
	BackToBackEnabled  bool     `json:"backToBackEnabled"`
	MaximumCapacity    int      `json:"maximumCapacity"`
	SupportedTripTypes []string `json:"supportedTripTypes"`
}

// DefaultVehicleSettings is what the sample apps register a fresh vehicle with.
func DefaultVehicleSettings(vehicleID string) *VehicleSettings {
	return &VehicleSettings{
		VehicleID:          vehicleID,
		MaximumCapacity:    5,
		SupportedTripTypes: []string{"EXCLUSIVE"},
	}
}

type Trip struct {
	Name                         string     `json:"name"`
	VehicleID                    string     `json:"vehicleId,omitempty"`
	TripStatus                   TripStatus `json:"tripStatus,omitempty"`
	IntermediateDestinationIndex int        `json:"intermediateDestinationIndex,omitempty"`
}

type TripUpdate struct {
	Status                       TripStatus `json:"status"`
	IntermediateDestinationIndex *int       `json:"intermediateDestinationIndex,omitempty"`
}

// TripState is the driver side view of a trip in progress.
type TripState struct {
	TripID                       string
	Status                       TripStatus
	IntermediateDestinationIndex int
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CreateTripRequest is what the consumer app sends once pickup and dropoff
// have been chosen.
type CreateTripRequest struct {
	Pickup                   LatLng   `json:"pickup"`
	Dropoff                  LatLng   `json:"dropoff"`
	IntermediateDestinations []LatLng `json:"intermediateDestinations,omitempty"`
}

type SearchTripsRequest struct {
	VehicleID        string `json:"vehicleId,omitempty"`
	ActiveTripsOnly  bool   `json:"activeTripsOnly,omitempty"`
	PageSize         int    `json:"pageSize,omitempty"`
	PageToken        string `json:"pageToken,omitempty"`
	MinimumStaleness string `json:"minimumStaleness,omitempty"`
}

type SearchTripsResponse struct {
	Trips         []Trip `json:"trips"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}
