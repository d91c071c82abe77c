package scope

import (
	"os"
	"path/filepath"
)

// realpath resolves symlinks in path. Unlike filepath.EvalSymlinks, it
// tolerates a path whose final component does not yet exist (the
// Subagent-Stop Service may be asked to check a file the agent deleted
// after modifying it) by resolving the parent directory and rejoining the
// base name.
func realpath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		// Parent doesn't exist either; fall back to the absolute path
		// unresolved rather than failing scope checks outright.
		return abs, nil
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}
