package kconfig_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/kconfig"
	"github.com/chronix-os/chronix/internal/klog"
)

func TestParseFillsDefaults(t *testing.T) {
	b, err := kconfig.Parse([]byte(`steal_threshold: 20`))
	require.NoError(t, err)
	require.Equal(t, 1, b.Harts)
	require.Equal(t, kconfig.FrameStrategyBitmap, b.FrameStrategy)
	require.Equal(t, 20, b.StealThreshold)
	require.Equal(t, "/init", b.Init.Path)
	require.Equal(t, []string{"/init"}, b.Init.Argv)
}

func TestParseFullDocument(t *testing.T) {
	doc := `
harts: 4
frame_strategy: buddy
steal_threshold: 6
init:
  path: /sbin/init
  argv: ["/sbin/init", "--seed"]
  env: ["HOME=/", "TERM=dumb"]
`
	b, err := kconfig.Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 4, b.Harts)
	require.Equal(t, kconfig.FrameStrategyBuddy, b.FrameStrategy)
	require.Equal(t, 6, b.StealThreshold)
	require.Equal(t, "/sbin/init", b.Init.Path)
	require.Equal(t, []string{"/sbin/init", "--seed"}, b.Init.Argv)
	require.Equal(t, []string{"HOME=/", "TERM=dumb"}, b.Init.Env)
}

func TestParseRejectsUnknownStrategy(t *testing.T) {
	_, err := kconfig.Parse([]byte(`frame_strategy: radix`))
	require.Error(t, err)
}

func TestParseDefaultsZeroHartsToOne(t *testing.T) {
	b, err := kconfig.Parse([]byte(`harts: 0`))
	require.NoError(t, err)
	require.Equal(t, 1, b.Harts)
}

func TestParseDefaultsArgvFromPath(t *testing.T) {
	b, err := kconfig.Parse([]byte(`init: {path: /bin/sh}`))
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/sh"}, b.Init.Argv)
}

func TestParseDefaultsEmptyInitPath(t *testing.T) {
	b, err := kconfig.Parse([]byte(`init: {path: ""}`))
	require.NoError(t, err)
	require.Equal(t, "/init", b.Init.Path)
}

func TestDefaultIsSelfConsistent(t *testing.T) {
	b := kconfig.Default()
	require.Equal(t, kconfig.DefaultStealThreshold, b.StealThreshold)
	require.NotEmpty(t, b.Init.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := kconfig.Load("/nonexistent/boot.yaml")
	require.Error(t, err)
}

func TestApplyLogLevel(t *testing.T) {
	defer klog.SetLevel(klog.LevelInfo)

	b, err := kconfig.Parse([]byte(`log: {level: debug}`))
	require.NoError(t, err)
	b.ApplyLogLevel()
	require.Equal(t, klog.LevelDebug, klog.Min)

	b, err = kconfig.Parse([]byte(`log: {level: bogus}`))
	require.NoError(t, err)
	b.ApplyLogLevel()
	require.Equal(t, klog.LevelInfo, klog.Min)
}
