// Package config loads the CDC worker's configuration from environment
// variables, optionally seeded from a .env file the way the teacher
// repo's CRUD.go and internal/db.Connect do.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"mysql-iceberg-cdc/internal/cdcerrors"
)

// Mode selects backfill vs. live replication.
type Mode string

const (
	ModeCDC      Mode = "cdc"
	ModeBackfill Mode = "backfill"
)

// Config is the full set of settings read from the environment.
type Config struct {
	Schema         string
	Table          string
	Mode           Mode
	ConnectionName string

	MySQLHost   string
	MySQLPort   uint16
	MySQLUser   string
	MySQLPasswd string

	ServerID  uint32
	BatchSize int

	AWSRegion string
	S3Bucket  string

	LogLevel string
	LogFile  string
}

// Load reads configuration from the process environment, first loading a
// .env file if one is present (a missing .env file is not an error; a
// malformed one, or a missing required variable, is).
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	schema, err := stringVar("CDC_SCHEMA", "", true)
	if err != nil {
		return Config{}, err
	}
	table, err := stringVar("CDC_TABLE", "", true)
	if err != nil {
		return Config{}, err
	}
	connectionName, err := stringVar("CONNECTION_NAME", "", true)
	if err != nil {
		return Config{}, err
	}
	modeStr, err := stringVar("CDC_MODE", "cdc", false)
	if err != nil {
		return Config{}, err
	}
	mode := Mode(strings.ToLower(modeStr))
	if mode != ModeCDC && mode != ModeBackfill {
		return Config{}, fmt.Errorf("config: CDC_MODE %q: %w", modeStr, cdcerrors.ErrConfigInvalid)
	}

	mysqlHost, err := stringVar("MYSQL_HOST", "localhost", false)
	if err != nil {
		return Config{}, err
	}
	mysqlPort, err := intVar("MYSQL_PORT", 3306, false)
	if err != nil {
		return Config{}, err
	}
	mysqlUser, err := stringVar("MYSQL_USER", "root", false)
	if err != nil {
		return Config{}, err
	}
	mysqlPasswd, err := stringVar("MYSQL_PASSWD", "password", false)
	if err != nil {
		return Config{}, err
	}

	serverID, err := intVar("CDC_SERVER_ID", 1, false)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := intVar("BATCH_SIZE", 1000, false)
	if err != nil {
		return Config{}, err
	}
	if batchSize <= 0 {
		return Config{}, fmt.Errorf("config: BATCH_SIZE must be positive: %w", cdcerrors.ErrConfigInvalid)
	}

	awsRegion, err := stringVar("AWS_REGION", "us-east-1", false)
	if err != nil {
		return Config{}, err
	}
	s3Bucket, err := stringVar("S3_BUCKET", "my-cdc-bucket", false)
	if err != nil {
		return Config{}, err
	}

	logLevel, err := stringVar("LOG_LEVEL", "info", false)
	if err != nil {
		return Config{}, err
	}
	logFile, err := stringVar("LOG_FILE", "", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Schema:         schema,
		Table:          table,
		Mode:           mode,
		ConnectionName: connectionName,
		MySQLHost:      mysqlHost,
		MySQLPort:      uint16(mysqlPort),
		MySQLUser:      mysqlUser,
		MySQLPasswd:    mysqlPasswd,
		ServerID:       uint32(serverID),
		BatchSize:      batchSize,
		AWSRegion:      awsRegion,
		S3Bucket:       s3Bucket,
		LogLevel:       logLevel,
		LogFile:        logFile,
	}, nil
}

// stringVar mirrors the original service's get_env_var: a required,
// unset variable is a ConfigInvalid error; otherwise the default is used.
func stringVar(name, def string, required bool) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		if required {
			return "", fmt.Errorf("config: %s is required: %w", name, cdcerrors.ErrConfigInvalid)
		}
		return def, nil
	}
	return v, nil
}

// intVar mirrors the original service's get_env_int.
func intVar(name string, def int, required bool) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		if required {
			return 0, fmt.Errorf("config: %s is required: %w", name, cdcerrors.ErrConfigInvalid)
		}
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", name, v, cdcerrors.ErrConfigInvalid)
	}
	return n, nil
}
