package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type ScheduleConfig struct {
	Timezone           string
	Location           *time.Location
	VehicleToiletRatio int
}

type MaintenanceConfig struct {
	DefaultType       string
	DefaultTechnician string
	DefaultCost       float64
	SweepCron         string
	LookaheadDays     int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Schedule    ScheduleConfig
	Maintenance MaintenanceConfig
	SMTP        SMTPConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 7090)
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("SCHEDULE_TIMEZONE", "UTC")
	v.SetDefault("VEHICLE_TOILET_RATIO", 5)
	v.SetDefault("MAINTENANCE_DEFAULT_TYPE", "Preventivo")
	v.SetDefault("MAINTENANCE_DEFAULT_TECHNICIAN", "Técnico asignado")
	v.SetDefault("MAINTENANCE_DEFAULT_COST", 0)
	v.SetDefault("MAINTENANCE_SWEEP_CRON", "0 2 * * *")
	v.SetDefault("MAINTENANCE_LOOKAHEAD_DAYS", 7)
	v.SetDefault("SMTP_PORT", 587)

	_ = v.ReadInConfig()

	lifetime, err := time.ParseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return nil, fmt.Errorf("DB_CONN_MAX_LIFETIME: %w", err)
	}

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:           v.GetString("HTTP_HOST"),
			Port:           v.GetInt("HTTP_PORT"),
			AllowedOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		DB: DBConfig{
			Driver:          strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: lifetime,
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Schedule: ScheduleConfig{
			Timezone:           v.GetString("SCHEDULE_TIMEZONE"),
			VehicleToiletRatio: v.GetInt("VEHICLE_TOILET_RATIO"),
		},
		Maintenance: MaintenanceConfig{
			DefaultType:       v.GetString("MAINTENANCE_DEFAULT_TYPE"),
			DefaultTechnician: v.GetString("MAINTENANCE_DEFAULT_TECHNICIAN"),
			DefaultCost:       v.GetFloat64("MAINTENANCE_DEFAULT_COST"),
			SweepCron:         v.GetString("MAINTENANCE_SWEEP_CRON"),
			LookaheadDays:     v.GetInt("MAINTENANCE_LOOKAHEAD_DAYS"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", cfg.HTTP.Port)
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("SCHEDULE_TIMEZONE: %w", err)
	}
	cfg.Schedule.Location = loc

	if cfg.Schedule.VehicleToiletRatio < 1 {
		return fmt.Errorf("VEHICLE_TOILET_RATIO must be at least 1")
	}
	if cfg.Maintenance.DefaultCost < 0 {
		return fmt.Errorf("MAINTENANCE_DEFAULT_COST must not be negative")
	}
	if cfg.Maintenance.LookaheadDays < 0 {
		return fmt.Errorf("MAINTENANCE_LOOKAHEAD_DAYS must not be negative")
	}
	if _, err := cron.ParseStandard(cfg.Maintenance.SweepCron); err != nil {
		return fmt.Errorf("MAINTENANCE_SWEEP_CRON: %w", err)
	}
	return nil
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
