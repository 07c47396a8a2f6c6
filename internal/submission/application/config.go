package application

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	evaluation "mabis-registry/internal/evaluation/domain"
	"mabis-registry/internal/notify"
)

// TableConfig defines one named conversion table.
type TableConfig struct {
	Default string            `yaml:"default"`
	Months  map[string]string `yaml:"months"`
}

// NotifyConfig tunes recipient notification delivery.
type NotifyConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RoutingConfig maps formula categories to recipient roles.
type RoutingConfig struct {
	DefaultRoles []string            `yaml:"default_roles"`
	Categories   map[string][]string `yaml:"categories"`
}

// Config defines routing, notification and conversion-table settings.
type Config struct {
	Routing          RoutingConfig          `yaml:"routing"`
	Recipients       []notify.Recipient     `yaml:"recipients"`
	Notify           NotifyConfig           `yaml:"notify"`
	ConversionTables map[string]TableConfig `yaml:"conversion_tables"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Routing: RoutingConfig{
			DefaultRoles: splitCSV(getenvDefault("ROUTING_DEFAULT_ROLES", "NB,UNB")),
		},
		Notify: NotifyConfig{
			MaxAttempts:     getenvIntDefault("NOTIFY_MAX_ATTEMPTS", 4),
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}

	if path := os.Getenv("REGISTRY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Routing.DefaultRoles) == 0 {
		cfg.Routing.DefaultRoles = []string{"NB", "UNB"}
	}
	if cfg.Notify.MaxAttempts <= 0 {
		cfg.Notify.MaxAttempts = 4
	}
	if cfg.Notify.InitialInterval <= 0 {
		cfg.Notify.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Notify.MaxInterval <= 0 {
		cfg.Notify.MaxInterval = 10 * time.Second
	}
	return cfg, nil
}

// RolesForCategory resolves the recipient roles for one category.
func (c Config) RolesForCategory(category string) []string {
	if c.Routing.Categories != nil {
		if roles, ok := c.Routing.Categories[category]; ok && len(roles) > 0 {
			return roles
		}
	}
	return c.Routing.DefaultRoles
}

// Tables builds the conversion-table provider from config.
func (c Config) Tables() (evaluation.StaticTables, error) {
	tables := make(evaluation.StaticTables, len(c.ConversionTables))
	for name, tc := range c.ConversionTables {
		table := evaluation.StaticTable{}
		if tc.Default != "" {
			factor, err := decimal.NewFromString(tc.Default)
			if err != nil {
				return nil, err
			}
			table.Default = factor
		}
		if len(tc.Months) > 0 {
			table.Months = make(map[string]decimal.Decimal, len(tc.Months))
			for month, raw := range tc.Months {
				factor, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, err
				}
				table.Months[month] = factor
			}
		}
		tables[name] = table
	}
	return tables, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
