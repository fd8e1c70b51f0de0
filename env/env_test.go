package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayConfig struct {
	Host    string        `envconfig:"TEST_RELAY_HOST" default:"smtp.example.com"`
	Port    int           `envconfig:"TEST_RELAY_PORT" default:"587"`
	Timeout time.Duration `envconfig:"TEST_RELAY_TIMEOUT" default:"30s"`
}

type credentialsConfig struct {
	User string `envconfig:"TEST_RELAY_USER"`
	Pass string `envconfig:"TEST_RELAY_PASS"`
}

type requiredConfig struct {
	Token string `envconfig:"TEST_RELAY_TOKEN" required:"true"`
}

func TestInitConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	var cfg relayConfig
	require.NoError(t, InitConfig(&cfg))

	assert.Equal(t, "smtp.example.com", cfg.Host)
	assert.Equal(t, 587, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestInitConfig_MultipleConfigs(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TEST_RELAY_HOST", "127.0.0.1")
	t.Setenv("TEST_RELAY_TIMEOUT", "2s")
	t.Setenv("TEST_RELAY_USER", "probe@example.com")
	t.Setenv("TEST_RELAY_PASS", "secret")

	var relay relayConfig
	var creds credentialsConfig
	require.NoError(t, InitConfig(&relay, &creds))

	assert.Equal(t, "127.0.0.1", relay.Host)
	assert.Equal(t, 2*time.Second, relay.Timeout)
	assert.Equal(t, "probe@example.com", creds.User)
	assert.Equal(t, "secret", creds.Pass)
}

func TestInitConfig_MissingRequired(t *testing.T) {
	t.Chdir(t.TempDir())

	var relay relayConfig
	var required requiredConfig
	err := InitConfig(&relay, &required)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to envconfig.Process")
	assert.Contains(t, err.Error(), "requiredConfig")
}

func TestInitConfig_InvalidValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TEST_RELAY_PORT", "invalid")

	var cfg relayConfig
	err := InitConfig(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to envconfig.Process")
}

func TestInitConfig_NonStructPointer(t *testing.T) {
	var notAStruct string
	require.Error(t, InitConfig(&notAStruct))
}

func TestInitConfig_NoConfigs(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, InitConfig())
}

func TestInitConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "TEST_RELAY_HOST=fromdotenv\nTEST_RELAY_PORT=2525\nTEST_RELAY_USER=fromfile\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultEnvFile), []byte(content), 0600))
	t.Chdir(dir)

	// t.Setenv restores these after godotenv has set them.
	t.Setenv("TEST_RELAY_PORT", "")
	require.NoError(t, os.Unsetenv("TEST_RELAY_PORT"))
	t.Setenv("TEST_RELAY_USER", "")
	require.NoError(t, os.Unsetenv("TEST_RELAY_USER"))
	t.Setenv("TEST_RELAY_HOST", "override")

	var relay relayConfig
	var creds credentialsConfig
	require.NoError(t, InitConfig(&relay, &creds))

	assert.Equal(t, "override", relay.Host, "environment wins over .env")
	assert.Equal(t, 2525, relay.Port)
	assert.Equal(t, "fromfile", creds.User)
}

func TestInitConfig_DefaultEnvFileConstant(t *testing.T) {
	assert.Equal(t, ".env", DefaultEnvFile)
}
