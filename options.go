package kotoba

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port              int
	databaseURL       string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	extraMigrations   []fs.FS
}

// WithPort overrides the TCP port from config (KOTOBA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the config-selected embedding provider
// (OpenAI/Ollama/noop) with an external implementation.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
