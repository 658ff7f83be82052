package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"match": { "segmentTolerance": 1.5 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 1.5, viper.GetFloat64("match.segmentTolerance"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "startupcal", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, 20, viper.GetInt("throttle.eventsPerSecond"))
	assert.Equal(t, 3, viper.GetInt("extraction.maxRetries"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "startupcal", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "startup_calibration.json", cfg.Memory.FileName)
	assert.Equal(t, false, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "ws://localhost:5000/api/calibration", cfg.WebSocket.URL)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": true },
			"sqlite": { "path": "/tmp/cal.db", "dumpInterval": "10m" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, true, sc.Memory.CompressOutput)
	assert.Equal(t, "/tmp/cal.db", sc.SQLite.Path)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
}

func TestGetExtractionConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"extraction": { "maxRetries": 5, "probeTimeout": "250ms" }
	}`)))

	ec := GetExtractionConfig()
	assert.Equal(t, 5, ec.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, ec.ProbeTimeout)
	assert.Equal(t, 30.0, ec.DefaultRate)
	assert.Equal(t, 2, ec.Workers)
	assert.Equal(t, 5, ec.BatchSize)
}

func TestGetMatchAndThrottleConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{ "throttle": { "eventsPerSecond": 10 } }`)))

	mc := GetMatchConfig()
	assert.Equal(t, 0.5, mc.SegmentTolerance)
	assert.Equal(t, 0.25, mc.CorrelationTolerance)
	assert.Equal(t, 10, GetThrottleConfig().EventsPerSecond)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"metricInterval": "2s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, 2*time.Second, oc.MetricInterval)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetInfluxAndGraylogConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"influx": { "enabled": true, "host": "influx", "protocol": "https" },
		"graylog": { "enabled": true, "address": "gl:12201" }
	}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "https://influx:8086", ic.URL)
	assert.Equal(t, "startupcal", ic.Org)

	gc := GetGraylogConfig()
	assert.True(t, gc.Enabled)
	assert.Equal(t, "gl:12201", gc.Address)
}

func TestGetAPIConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"api": { "upload": true, "apiKey": "k" }
	}`)))

	ac := GetAPIConfig()
	assert.True(t, ac.Upload)
	assert.Equal(t, "k", ac.APIKey)
	assert.Equal(t, "http://localhost:5000", ac.ServerURL)
}
