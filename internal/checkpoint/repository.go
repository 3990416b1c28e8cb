package checkpoint

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
	"time"

	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/store"
)

// record is the persisted form of Info. Phase and status use the storage
// codes below and are translated explicitly in both directions.
type record struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PhaseCode     string     `json:"phase_code"`
	Description   string     `json:"description,omitempty"`
	StatusCode    string     `json:"status_code"`
	BackupID      string     `json:"backup_id"`
	Metadata      Metadata   `json:"metadata"`
	Checks        []Check    `json:"checks,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	SupersededBy  string     `json:"superseded_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
}

func phaseToCode(p Phase) (string, error) {
	switch p {
	case PhaseInitial:
		return "initial", nil
	case PhaseSchemaExtracted:
		return "schema_extracted", nil
	case PhaseDataMigrated:
		return "data_migrated", nil
	case PhaseUsersMigrated:
		return "users_migrated", nil
	case PhaseFilesMigrated:
		return "files_migrated", nil
	case PhaseValidationComplete:
		return "validation_complete", nil
	case PhaseProductionReady:
		return "production_ready", nil
	}
	return "", fmt.Errorf("phase %q has no storage code", p)
}

func phaseFromCode(code string) (Phase, error) {
	switch code {
	case "initial":
		return PhaseInitial, nil
	case "schema_extracted":
		return PhaseSchemaExtracted, nil
	case "data_migrated":
		return PhaseDataMigrated, nil
	case "users_migrated":
		return PhaseUsersMigrated, nil
	case "files_migrated":
		return PhaseFilesMigrated, nil
	case "validation_complete":
		return PhaseValidationComplete, nil
	case "production_ready":
		return PhaseProductionReady, nil
	}
	return "", fmt.Errorf("unknown stored phase code %q", code)
}

func statusToCode(s Status) (string, error) {
	switch s {
	case StatusCreated:
		return "created", nil
	case StatusValidated:
		return "validated", nil
	case StatusActive:
		return "active", nil
	case StatusSuperseded:
		return "superseded", nil
	case StatusFailed:
		return "failed", nil
	}
	return "", fmt.Errorf("status %q has no storage code", s)
}

func statusFromCode(code string) (Status, error) {
	switch code {
	case "created":
		return StatusCreated, nil
	case "validated":
		return StatusValidated, nil
	case "active":
		return StatusActive, nil
	case "superseded":
		return StatusSuperseded, nil
	case "failed":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown stored status code %q", code)
}

func toRecord(info *Info) (*record, error) {
	phase, err := phaseToCode(info.Phase)
	if err != nil {
		return nil, err
	}
	status, err := statusToCode(info.Status)
	if err != nil {
		return nil, err
	}
	return &record{
		ID:            info.ID,
		Name:          info.Name,
		PhaseCode:     phase,
		Description:   info.Description,
		StatusCode:    status,
		BackupID:      info.BackupID,
		Metadata:      info.Metadata,
		Checks:        info.Checks,
		FailureReason: info.FailureReason,
		SupersededBy:  info.SupersededBy,
		CreatedAt:     info.CreatedAt,
		UpdatedAt:     info.UpdatedAt,
		ValidatedAt:   info.ValidatedAt,
		ActivatedAt:   info.ActivatedAt,
	}, nil
}

func fromRecord(r *record) (*Info, error) {
	phase, err := phaseFromCode(r.PhaseCode)
	if err != nil {
		return nil, err
	}
	status, err := statusFromCode(r.StatusCode)
	if err != nil {
		return nil, err
	}
	return &Info{
		ID:            r.ID,
		Name:          r.Name,
		Phase:         phase,
		Description:   r.Description,
		Status:        status,
		BackupID:      r.BackupID,
		Metadata:      r.Metadata,
		Checks:        r.Checks,
		FailureReason: r.FailureReason,
		SupersededBy:  r.SupersededBy,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		ValidatedAt:   r.ValidatedAt,
		ActivatedAt:   r.ActivatedAt,
	}, nil
}

// repository writes every checkpoint to the record store and mirrors it to
// one JSON file per id
type repository struct {
	store     store.Store
	mirrorDir string
	logger    *logging.Logger
}

func newRepository(s store.Store, mirrorDir string, logger *logging.Logger) (*repository, error) {
	if err := os.MkdirAll(mirrorDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", mirrorDir, err)
	}
	return &repository{store: s, mirrorDir: mirrorDir, logger: logger}, nil
}

func (r *repository) save(ctx context.Context, info *Info) error {
	rec, err := toRecord(info)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, store.CollectionCheckpoints, rec.ID, rec); err != nil {
		return fmt.Errorf("failed to store checkpoint %s: %w", rec.ID, err)
	}

	// the mirror is for disaster recovery; a failed write is reported, not fatal
	if err := r.writeMirror(rec); err != nil {
		r.logger.WithFields(map[string]interface{}{
			logging.FieldOperation: "checkpoint_mirror",
			"checkpoint_id":        rec.ID,
			"error":                err.Error(),
		}).Warn("Failed to write checkpoint mirror file")
	}
	return nil
}

func (r *repository) writeMirror(rec *record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(r.mirrorDir, rec.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (r *repository) get(ctx context.Context, id string) (*Info, error) {
	var rec record
	if err := r.store.Get(ctx, store.CollectionCheckpoints, id, &rec); err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// list returns matching checkpoints newest first
func (r *repository) list(ctx context.Context, keep func(*Info) bool) ([]*Info, error) {
	var out []*Info
	err := r.store.List(ctx, store.CollectionCheckpoints, func(id string, data []byte) error {
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.WithField("checkpoint_id", id).Warn("Skipping undecodable checkpoint record")
			return nil
		}
		info, err := fromRecord(&rec)
		if err != nil {
			r.logger.WithFields(map[string]interface{}{
				"checkpoint_id": id,
				"error":         err.Error(),
			}).Warn("Skipping checkpoint record with unknown codes")
			return nil
		}
		if keep == nil || keep(info) {
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// reindex loads mirror files missing from the record store
func (r *repository) reindex(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.mirrorDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	restored := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		var existing record
		err := r.store.Get(ctx, store.CollectionCheckpoints, id, &existing)
		if err == nil {
			continue
		}
		if !apperrors.IsNotFound(err) {
			return restored, err
		}

		data, err := os.ReadFile(filepath.Join(r.mirrorDir, entry.Name()))
		if err != nil {
			return restored, err
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.WithField("file", entry.Name()).Warn("Skipping unreadable checkpoint mirror")
			continue
		}
		if _, err := fromRecord(&rec); err != nil {
			r.logger.WithField("file", entry.Name()).Warn("Skipping checkpoint mirror with unknown codes")
			continue
		}
		if err := r.store.Put(ctx, store.CollectionCheckpoints, rec.ID, &rec); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

func sortNewestFirst(infos []*Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID > infos[j].ID
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
}
