package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"migration-guard/internal/integrity"
	"migration-guard/internal/source"
)

func (e *Engine) backupDatabase(ctx context.Context, backupID, dir string) DatabaseBackup {
	res := DatabaseBackup{
		ComponentResult: ComponentResult{Status: StatusInProgress, Timestamp: e.now().UTC()},
		TableCounts:     make(map[string]int),
	}

	order, err := source.ResolveTableOrder(ctx, e.ds, e.opts.TableOrder, e.logger)
	if err != nil {
		fail(&res.ComponentResult, fmt.Errorf("failed to resolve table order: %w", err))
		return res
	}
	res.OrderSource = order.DerivedFrom

	artifact := DatabaseArtifact{
		BackupID:  backupID,
		CreatedAt: res.Timestamp,
		Tables:    make(map[string][]source.Record, len(order.Tables)),
	}

	for _, table := range order.Tables {
		if err := ctx.Err(); err != nil {
			fail(&res.ComponentResult, fmt.Errorf("database backup interrupted: %w", err))
			return res
		}
		res.AttemptedItems++

		rows, err := e.ds.FetchAllRows(ctx, table)
		if err != nil {
			e.skip(&res.ComponentResult, "database", table, err)
			continue
		}
		if rows == nil {
			rows = []source.Record{}
		}
		artifact.Tables[table] = rows
		artifact.TableOrder = append(artifact.TableOrder, table)
		res.TableCounts[table] = len(rows)
		res.RecordCount += len(rows)
		e.observer.TableCopied(table, len(rows))
	}
	if artifact.TableOrder == nil {
		artifact.TableOrder = []string{}
	}
	res.TableCount = len(artifact.TableOrder)
	res.TableOrder = artifact.TableOrder

	if e.exceedsFailureRatio(res.ComponentResult) {
		fail(&res.ComponentResult, fmt.Errorf("%d of %d tables could not be read: %s",
			res.SkippedCount, res.AttemptedItems, strings.Join(res.SkippedItems, ", ")))
		return res
	}

	size, checksum, err := e.writeArtifact(filepath.Join(dir, DatabaseFile), artifact)
	if err != nil {
		fail(&res.ComponentResult, err)
		return res
	}
	res.Size = size
	res.Checksum = checksum
	res.Status = StatusCompleted
	return res
}

func (e *Engine) backupIdentity(ctx context.Context, backupID, dir string) IdentityBackup {
	res := IdentityBackup{
		ComponentResult: ComponentResult{Status: StatusInProgress, Timestamp: e.now().UTC()},
	}
	if err := ctx.Err(); err != nil {
		fail(&res.ComponentResult, fmt.Errorf("identity backup interrupted: %w", err))
		return res
	}

	users, err := e.identity.ListUsers(ctx)
	if err != nil {
		fail(&res.ComponentResult, fmt.Errorf("failed to list users: %w", err))
		return res
	}
	if users == nil {
		users = []source.User{}
	}
	res.AttemptedItems = len(users)
	res.UserCount = len(users)

	artifact := UsersArtifact{
		BackupID:  backupID,
		CreatedAt: res.Timestamp,
		Users:     users,
	}

	if table := e.opts.ProfileTable; table != "" && e.tableExists(ctx, table) {
		profiles, err := e.ds.FetchAllRows(ctx, table)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"table": table,
				"error": err.Error(),
			}).Warn("Profile rows could not be read, users artifact will not include them")
		} else {
			artifact.Profiles = profiles
			res.ProfileCount = len(profiles)
			res.ProfileTable = table
		}
	}

	artifact.Summary = UsersSummary{
		UserCount:    res.UserCount,
		ProfileCount: res.ProfileCount,
		ProfileTable: res.ProfileTable,
	}

	size, checksum, err := e.writeArtifact(filepath.Join(dir, UsersFile), artifact)
	if err != nil {
		fail(&res.ComponentResult, err)
		return res
	}
	res.Size = size
	res.Checksum = checksum
	res.Status = StatusCompleted
	return res
}

func (e *Engine) tableExists(ctx context.Context, table string) bool {
	tables, err := e.ds.ListTables(ctx)
	if err != nil {
		return false
	}
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}

func (e *Engine) backupStorage(ctx context.Context, backupID, dir string) StorageBackup {
	res := StorageBackup{
		ComponentResult: ComponentResult{Status: StatusInProgress, Timestamp: e.now().UTC()},
		Buckets:         []BucketSummary{},
	}
	if err := ctx.Err(); err != nil {
		fail(&res.ComponentResult, fmt.Errorf("storage backup interrupted: %w", err))
		return res
	}

	buckets, err := e.objects.ListBuckets(ctx)
	if err != nil {
		fail(&res.ComponentResult, fmt.Errorf("failed to list buckets: %w", err))
		return res
	}

	manifest := StorageManifest{
		BackupID:  backupID,
		CreatedAt: res.Timestamp,
		Buckets:   []BucketManifest{},
	}
	storageRoot := filepath.Join(dir, StorageDir)

	var bucketChecksums []string
	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			fail(&res.ComponentResult, fmt.Errorf("storage backup interrupted: %w", err))
			return res
		}

		bm, err := e.copyBucket(ctx, bucket, storageRoot, &res.ComponentResult)
		if err != nil {
			fail(&res.ComponentResult, err)
			return res
		}

		manifest.Buckets = append(manifest.Buckets, bm)
		res.Buckets = append(res.Buckets, bm.BucketSummary)
		res.TotalFiles += bm.FileCount
		res.TotalBytes += bm.TotalBytes
		bucketChecksums = append(bucketChecksums, bm.Checksum)
	}

	if e.exceedsFailureRatio(res.ComponentResult) {
		fail(&res.ComponentResult, fmt.Errorf("%d of %d files could not be copied",
			res.SkippedCount, res.AttemptedItems))
		return res
	}

	manifest.TotalFiles = res.TotalFiles
	manifest.TotalBytes = res.TotalBytes
	manifest.Checksum = integrity.Combine(bucketChecksums)

	if err := writeJSON(filepath.Join(storageRoot, ManifestFile), manifest); err != nil {
		fail(&res.ComponentResult, NewStorageError("failed to write storage manifest", err))
		return res
	}

	res.Size = res.TotalBytes
	res.Checksum = manifest.Checksum
	res.Status = StatusCompleted
	return res
}

// copyBucket walks a bucket and downloads its files in parallel. Download
// failures are recorded as skips; only local write failures abort the bucket.
func (e *Engine) copyBucket(ctx context.Context, bucket source.Bucket, storageRoot string, res *ComponentResult) (BucketManifest, error) {
	bm := BucketManifest{
		BucketSummary: BucketSummary{Name: bucket.Name, Public: bucket.Public},
		Files:         []FileEntry{},
	}

	bucketDir, err := safeJoin(storageRoot, bucket.Name)
	if err != nil {
		return bm, err
	}
	if err := os.MkdirAll(bucketDir, 0750); err != nil {
		return bm, NewStorageError(fmt.Sprintf("failed to create directory for bucket %s", bucket.Name), err)
	}

	files, err := e.walk(ctx, bucket.Name, "")
	if err != nil {
		// an unlistable bucket counts as one skipped item
		res.AttemptedItems++
		e.skip(res, "storage", bucket.Name, err)
		bm.SkippedCount++
		bm.Checksum = integrity.Combine(nil)
		return bm, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.DownloadConcurrency)

	for _, objectPath := range files {
		objectPath := objectPath
		g.Go(func() error {
			var data []byte
			err := e.retry.Retry(gctx, func() error {
				var derr error
				data, derr = e.objects.DownloadObject(gctx, bucket.Name, objectPath)
				return derr
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				res.AttemptedItems++
				bm.SkippedCount++
				e.skip(res, "storage", bucket.Name+"/"+objectPath, err)
				mu.Unlock()
				return nil
			}

			target, err := safeJoin(bucketDir, objectPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return NewStorageError("failed to create object directory", err)
			}
			if err := os.WriteFile(target, data, 0640); err != nil {
				return NewStorageError(fmt.Sprintf("failed to write %s/%s", bucket.Name, objectPath), err)
			}

			entry := FileEntry{Path: objectPath, Size: int64(len(data)), Checksum: integrity.Hash(data)}
			mu.Lock()
			res.AttemptedItems++
			bm.Files = append(bm.Files, entry)
			bm.FileCount++
			bm.TotalBytes += entry.Size
			mu.Unlock()

			e.observer.FileCopied(bucket.Name, objectPath, entry.Size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return bm, err
	}

	sort.Slice(bm.Files, func(i, j int) bool { return bm.Files[i].Path < bm.Files[j].Path })
	checksums := make([]string, 0, len(bm.Files))
	for _, f := range bm.Files {
		checksums = append(checksums, f.Checksum)
	}
	bm.Checksum = integrity.Combine(checksums)
	return bm, nil
}

// walk lists every file below prefix, descending into directory entries
func (e *Engine) walk(ctx context.Context, bucket, prefix string) ([]string, error) {
	entries, err := e.objects.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		p := entry.Path
		if p == "" {
			p = path.Join(prefix, entry.Name)
		}
		if entry.IsDir {
			sub, err := e.walk(ctx, bucket, strings.TrimSuffix(p, "/")+"/")
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		files = append(files, p)
	}
	return files, nil
}

// writeArtifact encodes v through the codec and returns the stored size and checksum
func (e *Engine) writeArtifact(filename string, v interface{}) (int64, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, "", fmt.Errorf("failed to serialize %s: %w", filepath.Base(filename), err)
	}
	encoded, err := e.codec.Encode(raw)
	if err != nil {
		return 0, "", err
	}
	if err := os.WriteFile(filename, encoded, 0640); err != nil {
		return 0, "", NewStorageError(fmt.Sprintf("failed to write %s", filepath.Base(filename)), err)
	}
	return int64(len(encoded)), integrity.Hash(encoded), nil
}

func (e *Engine) readArtifact(filename string, codec *Codec, v interface{}) ([]byte, error) {
	stored, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Decode(stored)
	if err != nil {
		return stored, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return stored, fmt.Errorf("failed to parse %s: %w", filepath.Base(filename), err)
	}
	return stored, nil
}

func writeJSON(filename string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

func readJSON(filename string, v interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// safeJoin joins an object path below root and rejects paths that escape it
func safeJoin(root, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", NewStorageError(fmt.Sprintf("object path %q escapes the backup directory", rel), nil)
	}
	return cleaned, nil
}
