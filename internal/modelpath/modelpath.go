// Package modelpath resolves model identifiers to local directories,
// fetching remote checkpoints into a local cache when needed.
package modelpath

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/23skdu/longbow-verdict/internal/logger"
)

const hdfsScheme = "hdfs://"

// IsRemote reports whether the identifier needs a fetch before use.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, hdfsScheme)
}

// Resolve returns a local path for src. Local paths pass through untouched;
// hdfs:// paths are copied into cacheDir (or the user cache dir) with the
// hadoop CLI, reusing an existing copy when present.
func Resolve(ctx context.Context, src, cacheDir string) (string, error) {
	if !IsRemote(src) {
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("model path %s: %w", src, err)
		}
		return src, nil
	}

	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(base, "longbow-verdict")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	dest := filepath.Join(cacheDir, filepath.Base(strings.TrimSuffix(src, "/")))
	if _, err := os.Stat(dest); err == nil {
		logger.Log.Info("reusing cached model copy", "src", src, "dest", dest)
		return dest, nil
	}

	logger.Log.Info("fetching remote model", "src", src, "dest", dest)
	cmd := exec.CommandContext(ctx, "hadoop", "fs", "-get", src, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("hadoop fs -get %s: %w: %s", src, err, strings.TrimSpace(string(out)))
	}
	return dest, nil
}
