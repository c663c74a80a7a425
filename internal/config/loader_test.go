package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac2git/ac2git/internal/config"
)

func TestLoadConfig_MinimalFile_ReturnsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	emptyPath := filepath.Join(dir, "minimal.yaml")
	content := `depot: MyDepot
streams:
  - main
repo-path: /srv/repos/mydepot.git
`
	require.NoError(t, os.WriteFile(emptyPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(emptyPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.DefaultStartTx, cfg.StartTx)
	assert.Equal(t, config.DefaultEndTx, cfg.EndTx)
	assert.Equal(t, config.DefaultMethod, cfg.Method)
	assert.Equal(t, config.DefaultEmptyChildStreamAction, cfg.EmptyChildStreamAction)
	assert.False(t, cfg.SourceStreamFastForward)
	assert.Equal(t, config.DefaultRetrievalWorkers, cfg.Retrieval.Workers)
	assert.Equal(t, config.DefaultRetrievalRetryMax, cfg.Retrieval.RetryMax)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".ac2git.yaml")
	content := `depot: MyDepot
streams:
  - main
  - dev
start-tx: "100"
end-tx: highest
method: deep-hist
source-stream-fast-forward: true
empty-child-stream-action: cherry-pick
repo-path: /srv/repos/mydepot.git
retrieval:
  workers: 8
  retry_max: 3
  retry_delay: 1s
user-map:
  jdoe:
    name: Jane Doe
    email: jane@example.com
    timezone: America/New_York
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	expectedWorkers := 8
	expectedRetryMax := 3

	assert.Equal(t, "MyDepot", cfg.Depot)
	assert.Equal(t, []string{"main", "dev"}, cfg.Streams)
	assert.Equal(t, "100", cfg.StartTx)
	assert.Equal(t, "highest", cfg.EndTx)
	assert.Equal(t, config.MethodDeepHist, cfg.Method)
	assert.True(t, cfg.SourceStreamFastForward)
	assert.Equal(t, config.ChildActionCherryPick, cfg.EmptyChildStreamAction)
	assert.Equal(t, "/srv/repos/mydepot.git", cfg.RepoPath)
	assert.Equal(t, expectedWorkers, cfg.Retrieval.Workers)
	assert.Equal(t, expectedRetryMax, cfg.Retrieval.RetryMax)

	require.Contains(t, cfg.UserMap, "jdoe")
	assert.Equal(t, "Jane Doe", cfg.UserMap["jdoe"].Name)
	assert.Equal(t, "jane@example.com", cfg.UserMap["jdoe"].Email)
	assert.Equal(t, "America/New_York", cfg.UserMap["jdoe"].Timezone)
}

func TestLoadConfig_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	content := `streams: [invalid yaml
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidAfterLoad_ReturnsValidationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".ac2git.yaml")
	content := `depot: MyDepot
streams:
  - main
repo-path: /srv/repos/mydepot.git
method: rsync
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadConfig_PartialConfig_MergesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".ac2git.yaml")
	content := `depot: MyDepot
streams:
  - main
repo-path: /srv/repos/mydepot.git
retrieval:
  workers: 16
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	expectedWorkers := 16

	assert.Equal(t, expectedWorkers, cfg.Retrieval.Workers)
	assert.Equal(t, config.DefaultMethod, cfg.Method)
	assert.Equal(t, config.DefaultEmptyChildStreamAction, cfg.EmptyChildStreamAction)
}

func TestLoadConfig_EnvOverride_RetrievalWorkers(t *testing.T) {
	dir := t.TempDir()
	minimalPath := filepath.Join(dir, "minimal.yaml")
	content := `depot: MyDepot
streams:
  - main
repo-path: /srv/repos/mydepot.git
`
	require.NoError(t, os.WriteFile(minimalPath, []byte(content), 0o600))

	t.Setenv("AC2GIT_RETRIEVAL_WORKERS", "32")

	cfg, err := config.LoadConfig(minimalPath)
	require.NoError(t, err)

	expectedWorkers := 32

	assert.Equal(t, expectedWorkers, cfg.Retrieval.Workers)
}

func TestLoadConfig_EnvOverride_Method(t *testing.T) {
	dir := t.TempDir()
	minimalPath := filepath.Join(dir, "minimal.yaml")
	content := `depot: MyDepot
streams:
  - main
repo-path: /srv/repos/mydepot.git
`
	require.NoError(t, os.WriteFile(minimalPath, []byte(content), 0o600))

	t.Setenv("AC2GIT_METHOD", "diff")

	cfg, err := config.LoadConfig(minimalPath)
	require.NoError(t, err)

	assert.Equal(t, config.MethodDiff, cfg.Method)
}

func TestLoadConfig_ExplicitPath_NotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
}
