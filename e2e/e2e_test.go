package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/tasmota-bridge/api/entities"
	"github.com/kilianp07/tasmota-bridge/app"
	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/core/bridge"
	"github.com/kilianp07/tasmota-bridge/core/factory"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/infra/mqtt"
	"github.com/kilianp07/tasmota-bridge/simulator"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// startInflux starts an InfluxDB 2.7 container initialised with the e2e
// organisation, bucket and token.
func startInflux(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

// startMosquitto spins up a Mosquitto broker accepting anonymous clients.
func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "1883")
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// getJSON decodes the body into v on 200 and returns the status code, or 0
// when the request fails.
func getJSON(url string, v any) int {
	resp, err := http.Get(url)
	if err != nil {
		return 0
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(v) != nil {
		return 0
	}
	return resp.StatusCode
}

// TestSimulatedDeviceEndToEnd runs the service against real Mosquitto and
// InfluxDB instances with one simulated device, then checks the API, the
// history store and the InfluxDB points.
func TestSimulatedDeviceEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	influxURL := startInflux(ctx, t)
	brokerURL := startMosquitto(ctx, t)

	cfg := &config.Config{}
	cfg.MQTT.Broker = brokerURL
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "influx", Conf: map[string]any{
		"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket,
	}}}
	cfg.History.Enabled = true
	cfg.History.Backend = "sqlite"
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	svc, err := app.New(cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()
	runCtx, stop := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(runCtx) }()

	devs, err := simulator.GenerateFleet(simulator.FleetConfig{Size: 1, Models: []string{"th"}})
	require.NoError(t, err)
	dev := devs[0]
	devCli, err := mqtt.NewPahoClient(mqtt.Config{Broker: brokerURL, ClientID: "sim-" + dev.MAC})
	require.NoError(t, err)
	require.NoError(t, devCli.Connect())
	defer devCli.Disconnect()
	simCtx, stopSim := context.WithCancel(ctx)
	simDone := make(chan error, 1)
	go func() {
		simDone <- dev.Run(simCtx, devCli, cfg.Discovery.Prefix, 200*time.Millisecond, logger.NopLogger{})
	}()

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	const entityID = "sensor.dht11_temperature"
	var st bridge.EntityState
	require.Eventually(t, func() bool {
		if getJSON(srv.URL+"/api/entities/"+entityID, &st) != http.StatusOK {
			return false
		}
		_, err := strconv.ParseFloat(st.State, 64)
		return err == nil
	}, 30*time.Second, 200*time.Millisecond)
	assert.Equal(t, "C", st.Attributes["unit_of_measurement"])

	var hist entities.History
	require.Eventually(t, func() bool {
		return getJSON(srv.URL+"/api/entities/"+entityID+"/history", &hist) == http.StatusOK && hist.Summary.Numeric >= 2
	}, 30*time.Second, 200*time.Millisecond)

	influx := NewInfluxClient(influxURL, influxOrg, influxBucket, influxToken)
	defer influx.Close()
	require.Eventually(t, func() bool {
		n, err := influx.CountPoints(ctx, "sensor_state", entityID)
		return err == nil && n > 0
	}, 30*time.Second, 500*time.Millisecond)

	stopSim()
	require.NoError(t, <-simDone)
	require.Eventually(t, func() bool {
		return getJSON(srv.URL+"/api/entities/"+entityID, &st) == http.StatusOK && st.State == "unavailable"
	}, 30*time.Second, 200*time.Millisecond)

	stop()
	require.NoError(t, <-runDone)
}
