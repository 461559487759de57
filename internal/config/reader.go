package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Providers  Providers
	Tiers      TiersConfig
	Upstream   UpstreamConfig
	Enrichment EnrichmentConfig
	Resolver   ResolverConfig
	Fixture    FixtureConfig
	Warmer     WarmerConfig
	Server     ServerConfig
	Gateway    GatewayConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
}

func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	return ParseAppConfig(data)
}

func ParseAppConfig(data []byte) (*AppConfig, error) {
	var interm AppConfigIntermediary
	if err := yaml.Unmarshal(data, &interm); err != nil {
		return nil, fmt.Errorf("yaml unmarshal error: %w", err)
	}

	interm.applyDefaults()

	if err := interm.Validate(); err != nil {
		return nil, fmt.Errorf("config validate error: %w", err)
	}

	return &AppConfig{
		Providers:  interm.Providers,
		Tiers:      interm.Tiers,
		Upstream:   interm.Upstream,
		Enrichment: interm.Enrichment,
		Resolver:   interm.Resolver,
		Fixture:    interm.Fixture,
		Warmer:     interm.Warmer,
		Server:     interm.Server,
		Gateway:    interm.Gateway,
		Logging:    interm.Logging,
		Tracing:    interm.Tracing,
	}, nil
}
