package audit

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvAuditLogDir is the environment variable override named in spec.md §6.
const EnvAuditLogDir = "DES_AUDIT_LOG_DIR"

// ResolveDir picks the audit directory using the priority chain in spec.md
// §4.5: explicit argument → DES_AUDIT_LOG_DIR → project-local
// .nwave/des/logs/ → global fallback ~/.claude/des/logs/. The first
// location that can be created/written wins; directory-creation failures
// fall through to the next candidate silently (spec.md §9 open question:
// resolved as silent fallback, with write failures still surfaced per
// spec.md §4.5 "Failure semantics" at the point a write actually fails,
// not at directory-resolution time).
func ResolveDir(explicit, projectRoot string) (string, error) {
	candidates := make([]string, 0, 4)
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if env := os.Getenv(EnvAuditLogDir); env != "" {
		candidates = append(candidates, env)
	}
	if projectRoot != "" {
		candidates = append(candidates, filepath.Join(projectRoot, ".nwave", "des", "logs"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".claude", "des", "logs"))
	}

	var lastErr error
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			lastErr = fmt.Errorf("create audit dir %s: %w", dir, err)
			continue
		}
		if err := writableProbe(dir); err != nil {
			lastErr = err
			continue
		}
		return dir, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("audit: no candidate directories available")
	}
	return "", lastErr
}

// writableProbe confirms dir is writable by creating and removing a throwaway
// file, since MkdirAll can succeed on a read-only filesystem when the
// directory already exists.
func writableProbe(dir string) error {
	f, err := os.CreateTemp(dir, ".des-writable-probe-*")
	if err != nil {
		return fmt.Errorf("probe write access to %s: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
