package upstream

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

/* Loader manages the upstream endpoint configuration from endpoints.yaml
 * Provides the static endpoint lists fed to the health monitor
 */

// EndpointsConfig represents the structure of endpoints.yaml
type EndpointsConfig struct {
	Aggregators       []string `yaml:"aggregators"`
	Publishers        []string `yaml:"publishers"`
	DefaultAggregator string   `yaml:"default_aggregator"`
	DefaultPublisher  string   `yaml:"default_publisher"`
}

// Loader holds the loaded endpoint lists
type Loader struct {
	aggregators       []string
	publishers        []string
	defaultAggregator string
	defaultPublisher  string
}

// NewLoader creates a new endpoint loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the endpoints.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading endpoints file: %w", err)
	}

	var config EndpointsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing endpoints YAML: %w", err)
	}

	return l.apply(config)
}

// LoadConfig applies an already-parsed configuration
func (l *Loader) LoadConfig(config EndpointsConfig) error {
	return l.apply(config)
}

func (l *Loader) apply(config EndpointsConfig) error {
	if len(config.Aggregators) == 0 && config.DefaultAggregator == "" {
		return fmt.Errorf("at least one aggregator endpoint is required")
	}
	if len(config.Publishers) == 0 && config.DefaultPublisher == "" {
		return fmt.Errorf("at least one publisher endpoint is required")
	}

	all := append(append([]string{}, config.Aggregators...), config.Publishers...)
	if config.DefaultAggregator != "" {
		all = append(all, config.DefaultAggregator)
	}
	if config.DefaultPublisher != "" {
		all = append(all, config.DefaultPublisher)
	}
	for _, raw := range all {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("validating endpoint %s: %w", raw, err)
		}
	}

	l.aggregators = config.Aggregators
	l.publishers = config.Publishers
	l.defaultAggregator = config.DefaultAggregator
	l.defaultPublisher = config.DefaultPublisher
	if l.defaultAggregator == "" {
		l.defaultAggregator = config.Aggregators[0]
	}
	if l.defaultPublisher == "" {
		l.defaultPublisher = config.Publishers[0]
	}
	return nil
}

// Endpoints returns the configured endpoints for a role
func (l *Loader) Endpoints(role Role) []string {
	if role == Publisher {
		return l.publishers
	}
	return l.aggregators
}

// Default returns the statically configured fallback endpoint for a role
func (l *Loader) Default(role Role) string {
	if role == Publisher {
		return l.defaultPublisher
	}
	return l.defaultAggregator
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL host cannot be empty")
	}
	return nil
}
