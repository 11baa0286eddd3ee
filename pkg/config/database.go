package config

import "time"

// DatabaseConfig holds Postgres connection and pool settings.
type DatabaseConfig struct {
	// DSN is the connection string. Usually supplied via {{.DATABASE_URL}}.
	DSN string `yaml:"dsn"`

	// Connection pool settings.
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// MigrateOnStart applies embedded migrations when the client opens.
	MigrateOnStart bool `yaml:"migrate_on_start"`

	// AutoProvisionSchemas creates tenant schemas (and migrates them) on
	// first use when a run specifies one.
	AutoProvisionSchemas bool `yaml:"auto_provision_schemas"`
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxConns:        25,
		MinConns:        2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		MigrateOnStart:  true,
	}
}
