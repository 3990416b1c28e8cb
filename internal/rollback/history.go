package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "migration-guard/internal/errors"
)

func (e *Engine) recordPath(rollbackID string) (string, error) {
	if rollbackID == "" || strings.ContainsAny(rollbackID, `/\`) || strings.Contains(rollbackID, "..") {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("invalid rollback id %q", rollbackID), nil)
	}
	return filepath.Join(e.historyDir, rollbackID+".json"), nil
}

func (e *Engine) save(result *Result) error {
	path, err := e.recordPath(result.RollbackID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// GetRollback loads one persisted rollback record
func (e *Engine) GetRollback(ctx context.Context, rollbackID string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := e.recordPath(rollbackID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("rollback", rollbackID)
		}
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse rollback %s: %w", rollbackID, err)
	}
	return &result, nil
}

// ListRollbacks returns every readable rollback record, newest first
func (e *Engine) ListRollbacks(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(e.historyDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Result{}, nil
		}
		return nil, err
	}

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		result, err := e.GetRollback(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			}).Warn("Skipping unreadable rollback record")
			continue
		}
		results = append(results, *result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	return results, nil
}
