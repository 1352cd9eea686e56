package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/internal/env"
)

// ClientInterface is the subset of the DogStatsD client used for metrics.
type ClientInterface interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
}

var dogstatsd ClientInterface

func InitMetrics() {
	if !env.Cfg.Datadog.Enabled {
		log.Info().Msg("Datadog metrics disabled")
		return
	}

	client, err := statsd.New(env.Cfg.Datadog.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	client.Namespace = env.Cfg.Datadog.Namespace
	client.Tags = env.Cfg.Datadog.Tags
	dogstatsd = client

	log.Info().
		Str("addr", env.Cfg.Datadog.AgentAddr).
		Str("namespace", env.Cfg.Datadog.Namespace).
		Strs("tags", env.Cfg.Datadog.Tags).
		Msg("Datadog metrics initialized")
}

// SetClient replaces the metrics client; nil disables emission.
func SetClient(c ClientInterface) {
	dogstatsd = c
}

func Enabled() bool {
	return dogstatsd != nil
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Count(name string, value int64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Count(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}
