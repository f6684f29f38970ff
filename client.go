package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"github.com/gofrs/uuid"
)

const requestIDHeader = "X-Request-Id"

// Backend is the set of provider calls the service layer needs.
type Backend interface {
	FetchToken(ctx context.Context, vehicleID string) (*TokenResponse, error)
	GetVehicle(ctx context.Context, vehicleID string) (*Vehicle, error)
	CreateVehicle(ctx context.Context, settings *VehicleSettings) (*Vehicle, error)
	UpdateVehicle(ctx context.Context, vehicleID string, settings *VehicleSettings) (*Vehicle, error)
	GetTrip(ctx context.Context, tripID string) (*Trip, error)
	CreateTrip(ctx context.Context, req *CreateTripRequest) (*Trip, error)
	UpdateTrip(ctx context.Context, tripID string, update *TripUpdate) (*Trip, error)
	SearchTrips(ctx context.Context, req *SearchTripsRequest) (*SearchTripsResponse, error)
}

// Client talks to the sample provider REST API. It does not retry.
type Client struct {
	baseURL *url.URL
	http    *http.Client

	signer *v4.Signer
	region string
	now    func() time.Time
}

var _ Backend = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.http = c
	}
}

// WithSigV4 signs every request for an API gateway guarded by AWS IAM.
func WithSigV4(creds *credentials.Credentials, region string) ClientOption {
	return func(client *Client) {
		client.signer = v4.NewSigner(creds)
		client.region = region
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid baseURL %q: scheme and host are required", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		baseURL: u,
		http:    http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) FetchToken(ctx context.Context, vehicleID string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodGet, "/token/driver/"+url.PathEscape(vehicleID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetVehicle(ctx context.Context, vehicleID string) (*Vehicle, error) {
	var out Vehicle
	if err := c.do(ctx, http.MethodGet, "/vehicle/"+url.PathEscape(vehicleID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateVehicle(ctx context.Context, settings *VehicleSettings) (*Vehicle, error) {
	var out Vehicle
	if err := c.do(ctx, http.MethodPost, "/vehicle/new", settings, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateVehicle(ctx context.Context, vehicleID string, settings *VehicleSettings) (*Vehicle, error) {
	var out Vehicle
	if err := c.do(ctx, http.MethodPut, "/vehicle/"+url.PathEscape(vehicleID), settings, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTrip(ctx context.Context, tripID string) (*Trip, error) {
	var out Trip
	if err := c.do(ctx, http.MethodGet, "/trip/"+url.PathEscape(tripID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTrip(ctx context.Context, req *CreateTripRequest) (*Trip, error) {
	var out Trip
	if err := c.do(ctx, http.MethodPost, "/trip/new", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchTrips returns a single page; Service.SearchTrips follows page tokens.
func (c *Client) SearchTrips(ctx context.Context, req *SearchTripsRequest) (*SearchTripsResponse, error) {
	var out SearchTripsResponse
	if err := c.do(ctx, http.MethodPost, "/trip/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTrip(ctx context.Context, tripID string, update *TripUpdate) (*Trip, error) {
	var out Trip
	if err := c.do(ctx, http.MethodPut, "/trip/"+url.PathEscape(tripID), update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.Must(uuid.NewV4()).String())

	if c.signer != nil {
		var signBody io.ReadSeeker
		if len(body) > 0 {
			signBody = bytes.NewReader(body)
		}
		if _, err := c.signer.Sign(req, signBody, "execute-api", c.region, c.now()); err != nil {
			return fmt.Errorf("sign %s %s: %w", method, path, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		return &HTTPError{
			Method:     method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
