package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"migration-guard/internal/integrity"
	"migration-guard/internal/source"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_$]+$`)

// collector reads the live state a checkpoint is compared against
type collector struct {
	ds             source.DataSource
	identity       source.IdentityProvider
	objects        source.ObjectStore
	criticalTables []string
}

func (c *collector) collect(ctx context.Context) (Metadata, error) {
	meta := Metadata{
		TableCounts:    make(map[string]int64),
		TableChecksums: make(map[string]string),
	}

	tables, err := c.ds.ListTables(ctx)
	if err != nil {
		return meta, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, table := range tables {
		count, err := c.countRows(ctx, table)
		if err != nil {
			return meta, err
		}
		meta.TableCounts[table] = count
	}

	for _, table := range c.criticalTables {
		if _, ok := meta.TableCounts[table]; !ok {
			continue
		}
		checksum, err := c.tableChecksum(ctx, table)
		if err != nil {
			return meta, err
		}
		meta.TableChecksums[table] = checksum
	}

	users, err := c.identity.ListUsers(ctx)
	if err != nil {
		return meta, fmt.Errorf("failed to count users: %w", err)
	}
	meta.Users.Total = int64(len(users))

	files, bytes, err := c.countObjects(ctx)
	if err != nil {
		return meta, err
	}
	meta.Files.Total = files
	meta.Bytes.Total = bytes
	return meta, nil
}

// countRows goes through RawQuery so drift checks see what the database
// reports rather than a cached count
func (c *collector) countRows(ctx context.Context, table string) (int64, error) {
	if !tableNamePattern.MatchString(table) {
		return 0, fmt.Errorf("refusing to count table with unsafe name %q", table)
	}
	rows, err := c.ds.RawQuery(ctx, fmt.Sprintf("SELECT COUNT(*) AS row_count FROM `%s`", table))
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("count query for %s returned %d rows", table, len(rows))
	}
	return toInt64(rows[0]["row_count"])
}

func (c *collector) tableChecksum(ctx context.Context, table string) (string, error) {
	rows, err := c.ds.FetchAllRows(ctx, table)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for checksum: %w", table, err)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return integrity.Hash(data), nil
}

func (c *collector) countObjects(ctx context.Context) (int64, int64, error) {
	buckets, err := c.objects.ListBuckets(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list buckets: %w", err)
	}
	var files, bytes int64
	for _, b := range buckets {
		f, n, err := c.walk(ctx, b.Name, "")
		if err != nil {
			return 0, 0, fmt.Errorf("failed to list bucket %s: %w", b.Name, err)
		}
		files += f
		bytes += n
	}
	return files, bytes, nil
}

func (c *collector) walk(ctx context.Context, bucket, prefix string) (int64, int64, error) {
	entries, err := c.objects.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return 0, 0, err
	}
	var files, bytes int64
	for _, e := range entries {
		if e.IsDir {
			f, n, err := c.walk(ctx, bucket, strings.TrimSuffix(e.Path, "/")+"/")
			if err != nil {
				return 0, 0, err
			}
			files += f
			bytes += n
			continue
		}
		files++
		bytes += e.Size
	}
	return files, bytes, nil
}

// compare checks current state against what was recorded. Count mismatches
// block; checksum mismatches are reported only.
func compare(recorded, current Metadata) []Check {
	var checks []Check

	tables := make([]string, 0, len(recorded.TableCounts))
	for table := range recorded.TableCounts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		expected := recorded.TableCounts[table]
		check := Check{
			Name:     "table:" + table,
			Kind:     CheckRecordCount,
			Expected: strconv.FormatInt(expected, 10),
			Blocking: true,
		}
		actual, ok := current.TableCounts[table]
		if !ok {
			check.Actual = "missing"
			check.Message = fmt.Sprintf("table %s no longer exists", table)
		} else {
			check.Actual = strconv.FormatInt(actual, 10)
			check.Passed = actual == expected
			if !check.Passed {
				check.Message = fmt.Sprintf("table %s has %d records, %d recorded", table, actual, expected)
			}
		}
		checks = append(checks, check)
	}

	checks = append(checks,
		countCheck("users", CheckUserCount, recorded.Users.Total, current.Users.Total),
		countCheck("files", CheckFileCount, recorded.Files.Total, current.Files.Total),
	)

	critical := make([]string, 0, len(recorded.TableChecksums))
	for table := range recorded.TableChecksums {
		critical = append(critical, table)
	}
	sort.Strings(critical)
	for _, table := range critical {
		expected := recorded.TableChecksums[table]
		actual := current.TableChecksums[table]
		check := Check{
			Name:     "checksum:" + table,
			Kind:     CheckChecksum,
			Expected: expected,
			Actual:   actual,
			Passed:   integrity.Equal(expected, actual),
		}
		if !check.Passed {
			check.Message = fmt.Sprintf("content of %s changed since the checkpoint", table)
		}
		checks = append(checks, check)
	}
	return checks
}

func countCheck(name string, kind CheckKind, expected, actual int64) Check {
	check := Check{
		Name:     name,
		Kind:     kind,
		Expected: strconv.FormatInt(expected, 10),
		Actual:   strconv.FormatInt(actual, 10),
		Passed:   expected == actual,
		Blocking: true,
	}
	if !check.Passed {
		check.Message = fmt.Sprintf("%s count is %d, %d recorded", name, actual, expected)
	}
	return check
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("count query returned no value")
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
