package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration values

	"github.com/joho/godotenv" // godotenv loads a local .env file when present
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in the
// application: strings for identifiers and secrets, durations for timeouts
// and sweep intervals.
type Config struct {
	Env             string        // application environment (e.g. "dev", "prod")
	Port            string        // HTTP port to listen on
	DBUser          string        // database username
	DBPass          string        // database password (optional)
	DBHost          string        // database host address
	DBPort          string        // database port number
	DBName          string        // database name
	JWTSecret       string        // secret used to verify picker access tokens
	DocumentURL     string        // base URL of the document emission service
	EmissionTimeout time.Duration // per-call timeout for document emission
	StoreTimeout    time.Duration // per-call timeout for backing store operations
	SweepInterval   time.Duration // how often the zombie sweep runs
	HealthInterval  time.Duration // how often the health aggregator runs
	AmbiguityWindow time.Duration // pending emission age below which recovery refuses to guess
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when it
// exists so that local development does not require exporting variables.
// Required variables are enforced by must() and missing values cause the
// program to exit with a fatal log message.
func Load() Config {
	// A missing .env file is the normal case in production; ignore the error.
	_ = godotenv.Load()
	return Config{
		Env:             must("APP_ENV"),              // environment (dev/test/prod)
		Port:            must("APP_PORT"),             // port to bind the HTTP server
		DBUser:          must("DB_USER"),              // database user
		DBPass:          os.Getenv("DB_PASS"),         // database password (empty allowed)
		DBHost:          must("DB_HOST"),              // database host
		DBPort:          must("DB_PORT"),              // database port
		DBName:          must("DB_NAME"),              // database name
		JWTSecret:       must("JWT_SECRET"),           // secret used to verify JWTs
		DocumentURL:     must("DOCUMENT_SERVICE_URL"), // external emission collaborator
		EmissionTimeout: dur("EMISSION_TIMEOUT", 15*time.Second),
		StoreTimeout:    dur("STORE_TIMEOUT", 5*time.Second),
		SweepInterval:   dur("ZOMBIE_SWEEP_INTERVAL", time.Minute),
		HealthInterval:  dur("HEALTH_CHECK_INTERVAL", 5*time.Minute),
		AmbiguityWindow: dur("RECOVERY_AMBIGUITY_WINDOW", 10*time.Minute),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// dur reads an optional duration variable, falling back to the given default
// when the variable is unset.  An unparsable value is a configuration bug
// and aborts startup, mirroring must().
func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, v)
	}
	return d
}

// envInt reads an optional integer variable with a default.  Used by the
// rate limiter configuration.
func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

// envStr reads an optional string variable with a default.
func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// envBool reads an optional boolean variable with a default.  Accepts the
// usual truthy and falsy spellings.
func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}
