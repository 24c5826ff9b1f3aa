package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/store"
	"github.com/davidthor/bundlefix/pkg/store/backend"
)

// Environment variable names for store backend configuration.
const (
	// EnvStoreBackend sets the store backend type (local, s3, gcs, azurerm, minio, sqlite).
	EnvStoreBackend = "BUNDLEFIX_STORE_BACKEND"

	// EnvStorePrefix is the prefix for backend-specific config environment variables.
	// For example, BUNDLEFIX_STORE_PATH sets the "path" config for the local backend,
	// BUNDLEFIX_STORE_BUCKET sets the "bucket" config for S3/GCS backends.
	EnvStorePrefix = "BUNDLEFIX_STORE_"
)

// storeConfig resolves the backend configuration.
//
// Configuration precedence (highest to lowest):
//  1. CLI flags (--backend, --backend-config)
//  2. Environment variables (BUNDLEFIX_STORE_BACKEND, BUNDLEFIX_STORE_*)
//  3. Config file (backend, backend_config)
//  4. Defaults (local backend with ~/.bundlefix/store)
func (a *app) storeConfig(cmd *cobra.Command) backend.Config {
	effectiveBackend := "local"
	effectiveConfig := make(map[string]string)

	if a.cfg != nil {
		if a.cfg.Backend != "" {
			effectiveBackend = a.cfg.Backend
		}
		for k, v := range a.cfg.BackendConfig {
			effectiveConfig[k] = v
		}
	}

	// Apply environment variables
	if envBackend := os.Getenv(EnvStoreBackend); envBackend != "" {
		effectiveBackend = envBackend
	}
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvStorePrefix) && !strings.HasPrefix(env, EnvStoreBackend+"=") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				// BUNDLEFIX_STORE_PATH becomes "path", BUNDLEFIX_STORE_BUCKET "bucket".
				key := strings.ToLower(strings.TrimPrefix(parts[0], EnvStorePrefix))
				effectiveConfig[key] = parts[1]
			}
		}
	}

	// Apply CLI flags (highest priority)
	flags := cmd.Flags()
	if f := flags.Lookup("backend"); f != nil && f.Changed {
		effectiveBackend = f.Value.String()
	}
	if pairs, err := flags.GetStringArray("backend-config"); err == nil {
		for _, c := range pairs {
			parts := strings.SplitN(c, "=", 2)
			if len(parts) == 2 {
				effectiveConfig[parts[0]] = parts[1]
			}
		}
	}

	return backend.Config{
		Type:   effectiveBackend,
		Config: effectiveConfig,
	}
}

// createStoreManager builds a store manager for the resolved backend.
func (a *app) createStoreManager(cmd *cobra.Command) (store.Manager, error) {
	return store.NewManagerFromConfig(a.storeConfig(cmd))
}
