package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return newAuthorizingProvider(t, "")
}

// newAuthorizingProvider rejects vehicle and trip requests that lack
// "Bearer <bearer>" unless bearer is empty.
func newAuthorizingProvider(t *testing.T, bearer string) *httptest.Server {
	t.Helper()
	authorized := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if bearer != "" && r.Header.Get("Authorization") != "Bearer "+bearer {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token/driver/", func(w http.ResponseWriter, r *http.Request) {
		exp := time.Now().Add(time.Hour).UnixMilli()
		_, _ = io.WriteString(w, `{"jwt":"jwt-`+strings.TrimPrefix(r.URL.Path, "/token/driver/")+`","expirationTimestamp":`+strconv.FormatInt(exp, 10)+`}`)
	})
	mux.HandleFunc("/vehicle/", authorized(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"`+strings.TrimPrefix(r.URL.Path, "/vehicle/")+`","vehicleState":"ONLINE"}`)
	}))
	mux.HandleFunc("/trip/", authorized(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"`+strings.TrimPrefix(r.URL.Path, "/trip/")+`","tripStatus":"NEW"}`)
	}))
	mux.HandleFunc("/trip/search", authorized(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VehicleID       string `json:"vehicleId"`
			ActiveTripsOnly bool   `json:"activeTripsOnly"`
			PageToken       string `json:"pageToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status := "ENROUTE_TO_PICKUP"
		if !req.ActiveTripsOnly {
			status = "COMPLETE"
		}
		if req.PageToken == "" {
			_, _ = io.WriteString(w, `{"trips":[{"name":"`+req.VehicleID+`-1","tripStatus":"`+status+`"}],"nextPageToken":"2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"trips":[{"name":"`+req.VehicleID+`-`+req.PageToken+`","tripStatus":"`+status+`"}]}`)
	}))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestTokenCommand(t *testing.T) {
	provider := newProvider(t)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--provider-url", provider.URL, "--vehicle-id", "vehicle-a,vehicle-b"})
	require.NoError(t, cmd.Execute())

	require.Equal(t, "vehicle-a\tjwt-vehicle-a\nvehicle-b\tjwt-vehicle-b\n", out.String())
}

func TestTokenCommandRequiresVehicle(t *testing.T) {
	provider := newProvider(t)

	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"token", "--provider-url", provider.URL})
	require.Error(t, cmd.Execute())
}

func TestRegisterCommand(t *testing.T) {
	provider := newProvider(t)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"register", "--provider-url", provider.URL, "--vehicle-id", "vehicle-a"})
	require.NoError(t, cmd.Execute())

	require.JSONEq(t, `{"kind":"vehicle","id":"vehicle-a","state":{"name":"vehicle-a","vehicleState":"ONLINE"}}`, out.String())
}

func TestRegisterCommandWithBearer(t *testing.T) {
	provider := newAuthorizingProvider(t, "jwt-vehicle-a")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"register", "--provider-url", provider.URL, "--vehicle-id", "vehicle-b", "--bearer-vehicle-id", "vehicle-a"})
	require.NoError(t, cmd.Execute())
	require.JSONEq(t, `{"kind":"vehicle","id":"vehicle-b","state":{"name":"vehicle-b","vehicleState":"ONLINE"}}`, out.String())

	cmd = newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"register", "--provider-url", provider.URL, "--vehicle-id", "vehicle-b"})
	require.ErrorContains(t, cmd.Execute(), "401")
}

func TestTripsCommand(t *testing.T) {
	provider := newProvider(t)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"trips", "--provider-url", provider.URL, "--vehicle-id", "vehicle-a"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"kind":"trip","id":"vehicle-a","state":{"name":"vehicle-a-1","tripStatus":"ENROUTE_TO_PICKUP"}}`, lines[0])
	assert.JSONEq(t, `{"kind":"trip","id":"vehicle-a","state":{"name":"vehicle-a-2","tripStatus":"ENROUTE_TO_PICKUP"}}`, lines[1])

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"trips", "--all", "--provider-url", provider.URL, "--vehicle-id", "vehicle-a"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, 2, strings.Count(out.String(), `"COMPLETE"`))
}

func TestWatch(t *testing.T) {
	provider := newProvider(t)
	cfg := &Config{
		ProviderURL:  provider.URL,
		VehicleIDs:   []string{"vehicle-a"},
		TripIDs:      []string{"trip-a"},
		PollInterval: metav1.Duration{Duration: time.Millisecond},
	}
	service, err := newService(cfg)
	require.NoError(t, err)

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, cfg, service, newEventWriter(out))
	}()

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Count(s, `"kind":"vehicle"`) >= 2 && strings.Count(s, `"kind":"trip"`) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "watch did not return after cancel")
	}
}

func TestMergeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providerURL: http://file
vehicleIDs: [vehicle-file]
pollInterval: 10s
tokenSkew: 1m
`), 0o600))

	cfg := &Config{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFlags(fs, cfg)
	require.NoError(t, fs.Parse([]string{"--provider-url", "http://flag"}))

	require.NoError(t, mergeFile(cfg, path, fs))
	assert.Equal(t, "http://flag", cfg.ProviderURL)
	assert.Equal(t, []string{"vehicle-file"}, cfg.VehicleIDs)
	assert.Equal(t, 10*time.Second, cfg.PollInterval.Duration)
	assert.Equal(t, time.Minute, cfg.TokenSkew.Duration)
	require.NoError(t, cfg.Validate())
}

func TestMergeFileRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pollPeriod: 3s\n"), 0o600))

	cfg := &Config{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFlags(fs, cfg)
	require.Error(t, mergeFile(cfg, path, fs))
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ProviderURL:  "http://provider",
			PollInterval: metav1.Duration{Duration: time.Second},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.ProviderURL = ""
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.PollInterval.Duration = 0
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.TokenSkew.Duration = -time.Second
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.BearerVehicle = "vehicle-a"
	require.NoError(t, cfg.Validate())
	cfg.AWSRegion = "us-east-1"
	require.ErrorContains(t, cfg.Validate(), "bearer-vehicle-id")
}
