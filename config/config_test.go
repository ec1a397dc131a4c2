package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name" envconfig:"NAME" validate:"required"`
	Limit int    `yaml:"limit" envconfig:"LIMIT"`
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoaderEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	writeFile(t, path, "name: from-file\nlimit: 9\n")
	t.Setenv("TST_NAME", "from-env")

	cfg, err := NewLoader[sample]("TST", path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 9, cfg.Limit)

	cfg, err = NewLoader[sample]("TST", filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
	assert.Zero(t, cfg.Limit)

	writeFile(t, path, "name: x\nunknown: 1\n")
	_, err = NewLoader[sample]("TST", path).Load()
	assert.Error(t, err)
}

func TestContainerUpdate(t *testing.T) {
	c := NewContainer(sample{Name: "a"})
	var seen []string
	c.OnUpdate(func(s sample) { seen = append(seen, s.Name) })

	require.NoError(t, c.Update(sample{Name: "b"}))
	assert.Equal(t, "b", c.Get().Name)

	assert.Error(t, c.Update(sample{}))
	assert.Equal(t, "b", c.Get().Name)
	assert.Equal(t, []string{"b"}, seen)
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, "captureIp: true\nsensitiveFields: [ssn, dateOfBirth]\n")

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.NotNil(t, p.CaptureIP)
	assert.True(t, *p.CaptureIP)
	assert.Equal(t, []string{"ssn", "dateOfBirth"}, p.SensitiveFields)

	writeFile(t, path, "sensitiveFields: [ssn]\n")
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Nil(t, p.CaptureIP)

	writeFile(t, path, "captureIP: true\n")
	_, err = LoadPolicy(path)
	assert.Error(t, err, "keys are case sensitive")
}

func TestLoadPolicyEnvPins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, "captureIp: true\nsensitiveFields: [ssn]\n")
	t.Setenv("AUDIT_POLICY_CAPTURE_IP", "false")

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.NotNil(t, p.CaptureIP)
	assert.False(t, *p.CaptureIP)
	assert.Equal(t, []string{"ssn"}, p.SensitiveFields)

	p, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, p.CaptureIP)
	assert.Empty(t, p.SensitiveFields)
}

func TestWatchPolicyReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, "sensitiveFields: [ssn]\n")
	initial, err := LoadPolicy(path)
	require.NoError(t, err)

	c := NewContainer(initial)
	var updates atomic.Int32
	c.OnUpdate(func(Policy) { updates.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go WatchPolicy(ctx, path, 10*time.Millisecond, c, logger)

	// An invalid update is rejected and the old policy stays.
	time.Sleep(30 * time.Millisecond)
	writeFile(t, path, "sensitiveFields: ['']\n")
	require.NoError(t, os.Chtimes(path, time.Now().Add(time.Second), time.Now().Add(time.Second)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"ssn"}, c.Get().SensitiveFields)

	writeFile(t, path, "sensitiveFields: [ssn, iban]\n")
	require.NoError(t, os.Chtimes(path, time.Now().Add(2*time.Second), time.Now().Add(2*time.Second)))
	require.Eventually(t, func() bool {
		return len(c.Get().SensitiveFields) == 2
	}, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, updates.Load())
}
