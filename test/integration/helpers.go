//go:build integration

package integration

import (
	"os"
	"testing"

	"github.com/fivetwenty-io/vt-client/pkg/vt"
	"github.com/stretchr/testify/require"
)

// EICAR test file, present in every VirusTotal account's view.
const eicarSHA256 = "275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f"

// TestConfig holds configuration for integration tests.
type TestConfig struct {
	APIKey  string
	Host    string
	Premium bool
	Verbose bool
}

// LoadTestConfig loads configuration from environment variables.
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		APIKey:  os.Getenv("VT_APIKEY"),
		Host:    os.Getenv("VT_HOST"),
		Premium: os.Getenv("VT_PREMIUM") == "true",
		Verbose: os.Getenv("VT_VERBOSE") == "true",
	}
}

// newClient returns a client for the live API, skipping the test when no
// API key is configured.
func newClient(t *testing.T) (*vt.Client, *TestConfig) {
	t.Helper()

	cfg := LoadTestConfig()
	if cfg.APIKey == "" {
		t.Skip("VT_APIKEY not set")
	}

	opts := []vt.Option{vt.WithAgent("vt-integration-tests"), vt.WithVerifyTLS(true)}

	if cfg.Host != "" {
		opts = append(opts, vt.WithHost(cfg.Host))
	}

	if cfg.Verbose {
		opts = append(opts, vt.WithLogger(vt.NewZerologLogger(os.Stderr, "debug")), vt.WithDebug(true))
	}

	client, err := vt.NewClient(cfg.APIKey, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client, cfg
}
