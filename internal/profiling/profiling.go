package profiling

import (
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// InitProfiling starts continuous profiling when PYROSCOPE_PROFILING_ENABLED
// is set. The returned func stops the profiler.
func InitProfiling(service string) (func(), error) {
	if !isTrue(getEnv("PYROSCOPE_PROFILING_ENABLED", "false")) {
		slog.Debug("pyroscope profiling is disabled")
		return func() {}, nil
	}

	serverAddress := getEnv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040")
	applicationName := getEnv("PYROSCOPE_APPLICATION_NAME", service)

	config := pyroscope.Config{
		ApplicationName: applicationName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": service,
		},
	}
	if u, p := os.Getenv("PYROSCOPE_BASIC_AUTH_USER"), os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD"); u != "" && p != "" {
		config.BasicAuthUser = u
		config.BasicAuthPassword = p
	}

	profiler, err := pyroscope.Start(config)
	if err != nil {
		slog.Warn("failed to start pyroscope profiler", "err", err)
		return func() {}, nil
	}
	slog.Info("pyroscope profiling started", "server", serverAddress, "application", applicationName)

	return func() {
		if err := profiler.Stop(); err != nil {
			slog.Error("error stopping pyroscope profiler", "err", err)
		}
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
