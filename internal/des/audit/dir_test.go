package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDirPrefersExplicit(t *testing.T) {
	explicit := t.TempDir()
	dir, err := ResolveDir(explicit, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, explicit, dir)
}

func TestResolveDirFallsBackToProjectLocal(t *testing.T) {
	projectRoot := t.TempDir()
	t.Setenv(EnvAuditLogDir, "")

	dir, err := ResolveDir("", projectRoot)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(projectRoot, ".nwave", "des", "logs"), dir)
}

func TestResolveDirHonorsEnvOverride(t *testing.T) {
	envDir := t.TempDir()
	t.Setenv(EnvAuditLogDir, envDir)

	dir, err := ResolveDir("", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, envDir, dir)
}

func TestResolveDirFallsThroughOnUnwritableProjectDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	t.Setenv(EnvAuditLogDir, "")

	projectRoot := t.TempDir()
	nwaveDir := filepath.Join(projectRoot, ".nwave")
	require.NoError(t, os.MkdirAll(nwaveDir, 0o555))

	dir, err := ResolveDir("", projectRoot)
	require.NoError(t, err)
	require.NotEqual(t, filepath.Join(projectRoot, ".nwave", "des", "logs"), dir)
}
