package pool

import prom "github.com/prometheus/client_golang/prometheus"

// Option configures a Pool at construction time.
type Option func(*config)

type config struct {
	workers           int
	metricsNamespace  string
	metricsRegisterer prom.Registerer
}

// WithWorkers sets the requested worker count. A non-positive value (or
// omitting this option) requests the runtime default, GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithMetrics registers the pool's Prometheus collectors against reg under
// namespace. Without this option the pool records nothing.
func WithMetrics(namespace string, reg prom.Registerer) Option {
	return func(cfg *config) {
		cfg.metricsNamespace = namespace
		cfg.metricsRegisterer = reg
	}
}

func defaultConfig() config {
	return config{}
}
