package mssqlfixture_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/streamstore/mssqlfixture"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	c, err := mssqlfixture.LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, mssqlfixture.DefaultConfig(), c)
	require.Equal(t, "mcr.microsoft.com/mssql/server", c.Image)
	require.Equal(t, 11433, c.HostPort)
	require.Equal(t, 3*time.Minute, c.StartupTimeout)
	require.Equal(t, "sss-v3-", c.DatabasePrefix)
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := `MSSQLFIXTURE_TAG=2019-latest
MSSQLFIXTURE_HOST_PORT=21433
MSSQLFIXTURE_STARTUP_TIMEOUT=90s
MSSQLFIXTURE_KEEP_DATABASE=true
MSSQLFIXTURE_DATABASE_PREFIX=from-file-
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	// The process environment wins over the file.
	t.Setenv(mssqlfixture.EnvDatabasePrefix, "from-env-")

	c, err := mssqlfixture.LoadConfig(envFile)
	require.NoError(t, err)
	require.Equal(t, "2019-latest", c.Tag)
	require.Equal(t, 21433, c.HostPort)
	require.Equal(t, 90*time.Second, c.StartupTimeout)
	require.True(t, c.KeepDatabase)
	require.Equal(t, "from-env-", c.DatabasePrefix)
	require.Equal(t, mssqlfixture.DefaultImage, c.Image)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: mssqlfixture.EnvHostPort, value: "not-a-port"},
		{key: mssqlfixture.EnvHostPort, value: "70000"},
		{key: mssqlfixture.EnvStartupTimeout, value: "soon"},
		{key: mssqlfixture.EnvStartupTimeout, value: "-1s"},
		{key: mssqlfixture.EnvPollInterval, value: "0s"},
		{key: mssqlfixture.EnvKeepDatabase, value: "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := mssqlfixture.LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestConfigContainerSpec(t *testing.T) {
	t.Parallel()

	c := mssqlfixture.DefaultConfig()
	c.Password = "S3cret!x"
	spec := c.ContainerSpec()
	require.Equal(t, "mcr.microsoft.com/mssql/server:2022-latest", spec.Reference())
	require.Equal(t, "sql-stream-store-tests-mssql", spec.Name)
	require.Equal(t, 11433, spec.HostPort)
	require.Equal(t, 1433, spec.ContainerPort)
	require.Contains(t, spec.Env, "ACCEPT_EULA=Y")
	require.Contains(t, spec.Env, "MSSQL_SA_PASSWORD=S3cret!x")
	require.NoError(t, c.Validate())

	creds := c.Credentials()
	require.Equal(t, "sa", creds.User)
	require.Equal(t, "S3cret!x", creds.Password)
}

func TestConfigList(t *testing.T) {
	t.Parallel()

	c := mssqlfixture.DefaultConfig()
	vars := c.List()
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		values[v.Name] = v.Value
	}
	require.Equal(t, "11433", values[mssqlfixture.EnvHostPort])
	require.Equal(t, "3m0s", values[mssqlfixture.EnvStartupTimeout])
	require.NotContains(t, values[mssqlfixture.EnvPassword], c.Password)
	require.Len(t, values, 12)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "created", mssqlfixture.StateCreated.String())
	require.Equal(t, "disposed", mssqlfixture.StateDisposed.String())
}
