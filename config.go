package mssqlfixture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/streamstore/mssqlfixture/container"
	"github.com/streamstore/mssqlfixture/database"
	"github.com/streamstore/mssqlfixture/internal/dbname"
)

// Environment variables read by LoadConfig.
const (
	EnvImage          = "MSSQLFIXTURE_IMAGE"
	EnvTag            = "MSSQLFIXTURE_TAG"
	EnvContainerName  = "MSSQLFIXTURE_CONTAINER_NAME"
	EnvHost           = "MSSQLFIXTURE_HOST"
	EnvHostPort       = "MSSQLFIXTURE_HOST_PORT"
	EnvUser           = "MSSQLFIXTURE_USER"
	EnvPassword       = "MSSQLFIXTURE_PASSWORD"
	EnvStartupTimeout = "MSSQLFIXTURE_STARTUP_TIMEOUT"
	EnvPollInterval   = "MSSQLFIXTURE_POLL_INTERVAL"
	EnvDatabasePrefix = "MSSQLFIXTURE_DATABASE_PREFIX"
	EnvKeepDatabase   = "MSSQLFIXTURE_KEEP_DATABASE"
	EnvDockerEndpoint = "MSSQLFIXTURE_DOCKER_ENDPOINT"
)

// Defaults for the shared SQL Server container.
const (
	// https://hub.docker.com/r/microsoft/mssql-server
	DefaultImage         = "mcr.microsoft.com/mssql/server"
	DefaultTag           = "2022-latest"
	DefaultContainerName = "sql-stream-store-tests-mssql"
	DefaultHost          = "localhost"
	DefaultHostPort      = 11433
	DefaultUser          = "sa"
	// SQL Server enforces password complexity for sa.
	DefaultPassword = "!Passw0rd"

	containerPort = 1433
)

// Config describes the shared server container and the defaults applied to every fixture.
type Config struct {
	Image         string
	Tag           string
	ContainerName string
	// Host is where the server is reached when the container is not started by the fixture,
	// which happens when a database name override is supplied.
	Host           string
	HostPort       int
	User           string
	Password       string
	StartupTimeout time.Duration
	PollInterval   time.Duration
	DatabasePrefix string
	// KeepDatabase leaves owned databases in place on Close, for debugging.
	KeepDatabase   bool
	DockerEndpoint string
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Image:          DefaultImage,
		Tag:            DefaultTag,
		ContainerName:  DefaultContainerName,
		Host:           DefaultHost,
		HostPort:       DefaultHostPort,
		User:           DefaultUser,
		Password:       DefaultPassword,
		StartupTimeout: container.DefaultStartupTimeout,
		PollInterval:   container.DefaultPollInterval,
		DatabasePrefix: dbname.DefaultPrefix,
	}
}

// LoadConfig returns DefaultConfig overridden by the environment. Variables may also be loaded
// from dotenv files; missing files are ignored and the process environment takes precedence over
// file values.
func LoadConfig(envFiles ...string) (Config, error) {
	fileEnv := make(map[string]string)
	for _, name := range envFiles {
		values, err := godotenv.Read(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read env file %s: %w", name, err)
		}
		for k, v := range values {
			fileEnv[k] = v
		}
	}
	l := loader{lookup: func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fileEnv[key]
	}}

	c := DefaultConfig()
	c.Image = l.envOr(EnvImage, c.Image)
	c.Tag = l.envOr(EnvTag, c.Tag)
	c.ContainerName = l.envOr(EnvContainerName, c.ContainerName)
	c.Host = l.envOr(EnvHost, c.Host)
	c.HostPort = l.intOr(EnvHostPort, c.HostPort)
	c.User = l.envOr(EnvUser, c.User)
	c.Password = l.envOr(EnvPassword, c.Password)
	c.StartupTimeout = l.durationOr(EnvStartupTimeout, c.StartupTimeout)
	c.PollInterval = l.durationOr(EnvPollInterval, c.PollInterval)
	c.DatabasePrefix = l.envOr(EnvDatabasePrefix, c.DatabasePrefix)
	c.KeepDatabase = l.boolOr(EnvKeepDatabase, c.KeepDatabase)
	c.DockerEndpoint = l.envOr(EnvDockerEndpoint, c.DockerEndpoint)
	if l.err != nil {
		return Config{}, l.err
	}
	return c, c.Validate()
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := c.ContainerSpec().Validate(); err != nil {
		return err
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("startup timeout must be positive: %v", c.StartupTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %v", c.PollInterval)
	}
	if c.Password == "" {
		return errors.New("password must not be empty")
	}
	return c.server().Validate()
}

// ContainerSpec returns the spec of the shared server container.
func (c Config) ContainerSpec() container.Spec {
	return container.Spec{
		Image:         c.Image,
		Tag:           c.Tag,
		Name:          c.ContainerName,
		HostPort:      c.HostPort,
		ContainerPort: containerPort,
		Env: []string{
			"ACCEPT_EULA=Y",
			"MSSQL_SA_PASSWORD=" + c.Password,
			// Read by images older than 2019.
			"SA_PASSWORD=" + c.Password,
		},
	}
}

// Credentials returns the administrative login.
func (c Config) Credentials() database.Credentials {
	return database.Credentials{User: c.User, Password: c.Password}
}

func (c Config) server() database.Descriptor {
	return database.Descriptor{
		Host:     c.Host,
		Port:     c.HostPort,
		User:     c.User,
		Password: c.Password,
	}
}

// An EnvVar is an environment variable Name=Value.
type EnvVar struct {
	Name  string
	Value string
}

// List returns c as the environment variables LoadConfig reads. The password is masked.
func (c Config) List() []EnvVar {
	return []EnvVar{
		{Name: EnvImage, Value: c.Image},
		{Name: EnvTag, Value: c.Tag},
		{Name: EnvContainerName, Value: c.ContainerName},
		{Name: EnvHost, Value: c.Host},
		{Name: EnvHostPort, Value: strconv.Itoa(c.HostPort)},
		{Name: EnvUser, Value: c.User},
		{Name: EnvPassword, Value: "********"},
		{Name: EnvStartupTimeout, Value: c.StartupTimeout.String()},
		{Name: EnvPollInterval, Value: c.PollInterval.String()},
		{Name: EnvDatabasePrefix, Value: c.DatabasePrefix},
		{Name: EnvKeepDatabase, Value: strconv.FormatBool(c.KeepDatabase)},
		{Name: EnvDockerEndpoint, Value: c.DockerEndpoint},
	}
}

type loader struct {
	lookup func(string) string
	err    error
}

// envOr returns the value of key if set, or else def.
func (l *loader) envOr(key, def string) string {
	if val := l.lookup(key); val != "" {
		return val
	}
	return def
}

func (l *loader) intOr(key string, def int) int {
	val := l.lookup(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return n
}

func (l *loader) durationOr(key string, def time.Duration) time.Duration {
	val := l.lookup(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return d
}

func (l *loader) boolOr(key string, def bool) bool {
	val := l.lookup(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return b
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
