// Package checkpoint reconstructs a full model state dict from the
// rank-sharded files a distributed trainer writes.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/metrics"
	"github.com/23skdu/longbow-verdict/internal/statefile"
	"github.com/23skdu/longbow-verdict/internal/tensor"
)

var (
	ErrNoShards              = errors.New("no checkpoint shard files found")
	ErrInconsistentWorldSize = errors.New("inconsistent world size in checkpoint files")
	ErrMissingShard          = errors.New("missing checkpoint shard")
)

var shardPattern = regexp.MustCompile(`^model_world_size_(\d+)_rank_(\d+)\.pt$`)

// StateDict maps parameter names to consolidated tensors.
type StateDict map[string]*tensor.Tensor

// LoadSharded discovers every model_world_size_<W>_rank_<R>.pt file under
// dir and consolidates them into one state dict. Sharded parameters are
// concatenated along dim 0 in rank order; parameters whose shard values
// cannot be concatenated keep the first shard's value.
func LoadSharded(dir string) (StateDict, error) {
	worldSize, err := discoverWorldSize(dir)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("found checkpoint shards", "dir", dir, "world_size", worldSize)

	grouped := make(map[string][]*tensor.Tensor)
	var order []string
	for rank := 0; rank < worldSize; rank++ {
		path := filepath.Join(dir, fmt.Sprintf("model_world_size_%d_rank_%d.pt", worldSize, rank))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingShard, path)
		}

		logger.Log.Debug("loading shard", "path", path, "rank", rank)
		start := time.Now()
		entries, err := statefile.Read(path)
		if err != nil {
			return nil, fmt.Errorf("load shard %s: %w", path, err)
		}
		metrics.RecordShardLoad(time.Since(start))

		for _, e := range entries {
			if _, seen := grouped[e.Name]; !seen {
				order = append(order, e.Name)
			}
			grouped[e.Name] = append(grouped[e.Name], e.Tensor)
		}
	}

	consolidated := make(StateDict, len(order))
	for _, name := range order {
		parts := grouped[name]
		merged, err := tensor.ConcatRows(parts...)
		if err != nil {
			// Replicated parameters land here; keep the first shard.
			consolidated[name] = parts[0]
			metrics.RecordConcatFallback()
			logger.Log.Warn("parameter does not need concatenation, using first shard value",
				"param", name, "reason", err.Error())
			continue
		}
		consolidated[name] = merged
	}
	metrics.RecordConsolidatedParams(len(consolidated))
	return consolidated, nil
}

func discoverWorldSize(dir string) (int, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint dir: %w", err)
	}

	worldSizes := make(map[int]bool)
	for _, de := range dirEntries {
		m := shardPattern.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		w, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		worldSizes[w] = true
	}

	if len(worldSizes) == 0 {
		return 0, fmt.Errorf("%w in %s", ErrNoShards, dir)
	}
	if len(worldSizes) != 1 {
		keys := make([]int, 0, len(worldSizes))
		for w := range worldSizes {
			keys = append(keys, w)
		}
		return 0, fmt.Errorf("%w: %v", ErrInconsistentWorldSize, keys)
	}
	for w := range worldSizes {
		return w, nil
	}
	return 0, ErrNoShards
}
