package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Port        string
	DatabaseURL string
	// "postgres" or "memory".
	Store     string
	RedisURL  string
	ORSAPIKey string

	DepotAddress string
	DepotLat     *float64
	DepotLon     *float64
	Location     *time.Location

	ServiceMinutes    int
	GeocodeWorkers    int
	Max2OptPasses     int
	MaxStopsPerDriver int
	ReturnToDepot     bool
	OptimizeTimeout   time.Duration

	// Cron spec for order grouping; empty disables the job.
	GroupingSchedule string

	SeedPath        string
	DriversSeedPath string
}

// LoadDotEnv loads .env from the working directory when present.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
}

// Get returns the trimmed value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func GetInt(key string, fallback int) (int, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func GetBool(key string, fallback bool) (bool, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}

func GetDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := Get(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a duration", key, v)
	}
	return d, nil
}

func getFloat(key string) (*float64, error) {
	v := Get(key, "")
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("config: %s=%q is not a number", key, v)
	}
	return &f, nil
}

// Load reads the configuration from the environment. Call LoadDotEnv first
// to pick up a .env file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             Get("PORT", "8080"),
		DatabaseURL:      Get("DATABASE_URL", ""),
		Store:            strings.ToLower(Get("STORE", "postgres")),
		RedisURL:         Get("REDIS_URL", ""),
		ORSAPIKey:        Get("ORS_API_KEY", ""),
		DepotAddress:     Get("DEPOT_ADDRESS", "1901 W Madison St, Phoenix, AZ 85009"),
		GroupingSchedule: os.Getenv("GROUPING_SCHEDULE"),
		SeedPath:         Get("SEED_PATH", "data/seeds/orders.json"),
		DriversSeedPath:  Get("DRIVERS_SEED_PATH", "data/seeds/drivers.json"),
	}
	if _, set := os.LookupEnv("GROUPING_SCHEDULE"); !set {
		cfg.GroupingSchedule = "@every 1m"
	}
	cfg.GroupingSchedule = strings.TrimSpace(cfg.GroupingSchedule)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.ServiceMinutes, err = GetInt("SERVICE_MINUTES", 10)
	collect(err)
	cfg.GeocodeWorkers, err = GetInt("GEOCODE_WORKERS", 4)
	collect(err)
	cfg.Max2OptPasses, err = GetInt("MAX_2OPT_PASSES", 10)
	collect(err)
	cfg.MaxStopsPerDriver, err = GetInt("MAX_STOPS_PER_DRIVER", 0)
	collect(err)
	cfg.ReturnToDepot, err = GetBool("RETURN_TO_DEPOT", false)
	collect(err)
	cfg.OptimizeTimeout, err = GetDuration("OPTIMIZE_TIMEOUT", 2*time.Minute)
	collect(err)
	cfg.DepotLat, err = getFloat("DEPOT_LAT")
	collect(err)
	cfg.DepotLon, err = getFloat("DEPOT_LON")
	collect(err)

	cfg.Location, err = time.LoadLocation(Get("TIMEZONE", "UTC"))
	if err != nil {
		collect(fmt.Errorf("config: TIMEZONE: %w", err))
	}

	switch cfg.Store {
	case "postgres":
		if cfg.DatabaseURL == "" {
			collect(errors.New("config: DATABASE_URL is required when STORE=postgres"))
		}
	case "memory":
	default:
		collect(fmt.Errorf("config: STORE=%q must be postgres or memory", cfg.Store))
	}

	if (cfg.DepotLat == nil) != (cfg.DepotLon == nil) {
		collect(errors.New("config: DEPOT_LAT and DEPOT_LON must be set together"))
	}
	if cfg.DepotLat == nil && cfg.DepotAddress == "" {
		collect(errors.New("config: either DEPOT_ADDRESS or DEPOT_LAT/DEPOT_LON is required"))
	}

	for key, v := range map[string]int{
		"SERVICE_MINUTES":      cfg.ServiceMinutes,
		"GEOCODE_WORKERS":      cfg.GeocodeWorkers,
		"MAX_2OPT_PASSES":      cfg.Max2OptPasses,
		"MAX_STOPS_PER_DRIVER": cfg.MaxStopsPerDriver,
	} {
		if v < 0 {
			collect(fmt.Errorf("config: %s cannot be negative", key))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FixedDepot returns the configured depot coordinates, if any.
func (c *Config) FixedDepot() (lat, lon float64, ok bool) {
	if c.DepotLat == nil || c.DepotLon == nil {
		return 0, 0, false
	}
	return *c.DepotLat, *c.DepotLon, true
}

func (c *Config) ServiceDuration() time.Duration {
	return time.Duration(c.ServiceMinutes) * time.Minute
}
