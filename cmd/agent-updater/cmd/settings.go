package cmd

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oshokin/agent-updater/internal/config"
	"github.com/oshokin/agent-updater/internal/version"
)

// envPrefix namespaces environment overrides, e.g. AGENT_UPDATE_STORE_URL.
const envPrefix = "AGENT_UPDATE"

const (
	flagConfig    = "config"
	flagStoreURL  = "store-url"
	flagInterval  = "interval"
	flagRetryMin  = "retry-min"
	flagRetryMax  = "retry-max"
	flagChunkSize = "chunk-size"
	flagManifest  = "manifest"
	flagInsecure  = "insecure"
	flagLogLevel  = "log-level"
)

// registerFlags declares the persistent flags of the root command.
func registerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringP(flagConfig, "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringP(flagStoreURL, "s", "", "base URL of the artifact store")
	flags.Int64P(flagInterval, "i", int64(config.DefaultInterval/time.Minute), "minutes to wait between cycles")
	flags.Int64(flagRetryMin, int64(config.DefaultRetryMin/time.Second), "initial chunk retry delay in seconds")
	flags.Int64(flagRetryMax, int64(config.DefaultRetryMax/time.Second), "maximum chunk retry delay in seconds")
	flags.Int64(flagChunkSize, config.DefaultChunkSize, "bytes fetched per ranged request")
	flags.String(flagManifest, config.DefaultManifestFilename, "path to the local manifest")
	flags.Bool(flagInsecure, false, "skip TLS certificate verification of the store")
	flags.String(flagLogLevel, "info", "log level: debug, info, warn, error")
}

// bindSettings layers AGENT_UPDATE_* environment variables under the flags of cmd.
func bindSettings(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	return v, nil
}

// resolveConfig reads the settings file and applies explicit flag and
// environment overrides on top of it. A missing default file is allowed.
func resolveConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Read(v.GetString(flagConfig))

	switch {
	case errors.Is(err, os.ErrNotExist) && !v.IsSet(flagConfig):
		cfg = &config.Config{}
	case err != nil:
		return nil, err
	}

	if v.IsSet(flagStoreURL) {
		cfg.StoreURL = strings.TrimRight(v.GetString(flagStoreURL), "/")
	}

	if v.IsSet(flagInterval) {
		cfg.Interval = time.Duration(v.GetInt64(flagInterval)) * time.Minute
	}

	if v.IsSet(flagRetryMin) {
		cfg.RetryMin = time.Duration(v.GetInt64(flagRetryMin)) * time.Second
	}

	if v.IsSet(flagRetryMax) {
		cfg.RetryMax = time.Duration(v.GetInt64(flagRetryMax)) * time.Second
	}

	if v.IsSet(flagChunkSize) {
		cfg.ChunkSize = v.GetInt64(flagChunkSize)
	}

	if v.IsSet(flagManifest) {
		cfg.ManifestPath = v.GetString(flagManifest)
	}

	if v.IsSet(flagInsecure) {
		cfg.InsecureSkipVerify = v.GetBool(flagInsecure)
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newHTTPClient builds the store client shared by the manifest fetch and the downloader.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // Always *http.Transport.

	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Opt-in for self-signed stores.
	}

	return &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: &userAgentTransport{base: transport},
	}
}

// userAgentTransport stamps every request with the updater's User-Agent.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())

	return t.base.RoundTrip(req)
}
