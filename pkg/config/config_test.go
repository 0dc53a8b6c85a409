package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "CCCOMA_X64FRE_EN-US_DV9", cfg.Policy.VolumeIdentifier)
	require.Len(t, cfg.Policy.AcceptedLabels, 3)
	require.Equal(t, 0.6, cfg.Policy.SizeRatio)
	require.Equal(t, 0.8, cfg.Policy.UDFSizeRatio)
	require.True(t, cfg.Policy.AcceptUnmountableUDF)
	require.Equal(t, 100, cfg.Policy.MaxPathLength)
	require.Equal(t, 64, cfg.Policy.MaxFlatNameLength)
	require.Equal(t, 50, cfg.Policy.MaxNameLength)
	require.Equal(t, 600*time.Second, cfg.Policy.Timeouts.Tool)
	require.Equal(t, 30*time.Second, cfg.Policy.Timeouts.Mount)
	require.Equal(t, "wimlib-imagex", cfg.Tools.Wimlib)

	n, err := cfg.Policy.UDFThresholdBytes()
	require.NoError(t, err)
	require.Equal(t, int64(4<<30), n)
}

func TestCompatible(t *testing.T) {
	p := Default().Policy
	require.True(t, p.Compatible("CCCOMA_X64FRE_EN-US_DV9"))
	require.True(t, p.Compatible("CCCOMA_X64FRE_EN-US_DV9%203"))
	require.False(t, p.Compatible("CCCOMA_X64FRE_EN-US_DV9 "))
	require.False(t, p.Compatible("ccoma_x64fre_en-us_dv9"))
	require.False(t, p.Compatible(""))
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(`
[policy]
volume_identifier = "MY_LABEL"
size_ratio = 0.5
udf_threshold = "2GiB"

[policy.timeouts]
tool = "90s"

[tools]
mkisofs = "/opt/bin/mkisofs"
`), 0o644))

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "MY_LABEL", cfg.Policy.VolumeIdentifier)
	require.Equal(t, 0.5, cfg.Policy.SizeRatio)
	require.Equal(t, 90*time.Second, cfg.Policy.Timeouts.Tool)
	require.Equal(t, "/opt/bin/mkisofs", cfg.Tools.Mkisofs)
	// Untouched values keep their defaults.
	require.Equal(t, "genisoimage", cfg.Tools.Genisoimage)
	require.Equal(t, 0.8, cfg.Policy.UDFSizeRatio)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"ratio":     "[policy]\nsize_ratio = 1.5\n",
		"label":     "[policy]\nvolume_identifier = \"THIS_VOLUME_IDENTIFIER_IS_WAY_TOO_LONG\"\n",
		"threshold": "[policy]\nudf_threshold = \"lots\"\n",
		"charset":   "[policy]\nvolume_identifier = \"win10 media\"\n",
		"syntax":    "[policy\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
			_, err := Load(p)
			require.Error(t, err)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ISOREMASTER_MKISOFS", "xorrisofs")
	t.Setenv("ISOREMASTER_ACCEPT_UNMOUNTABLE_UDF", "false")
	t.Setenv("ISOREMASTER_TOOL_TIMEOUT", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "xorrisofs", cfg.Tools.Mkisofs)
	require.False(t, cfg.Policy.AcceptUnmountableUDF)
	require.Equal(t, 2*time.Minute, cfg.Policy.Timeouts.Tool)

	t.Setenv("ISOREMASTER_TOOL_TIMEOUT", "soon")
	_, err = Load("")
	require.Error(t, err)
}

func TestWriteAndLoad(t *testing.T) {
	cfg := Default()
	cfg.Policy.VolumeIdentifier = "ROUND_TRIP"
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, cfg.Write(p))

	loaded, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
