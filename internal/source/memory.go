package source

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryDataSource is an in-process DataSource used by tests and dry runs
type MemoryDataSource struct {
	mu          sync.RWMutex
	tables      map[string][]Record
	foreignKeys []ForeignKey

	// FailFetch makes FetchAllRows fail for the named tables
	FailFetch map[string]error
	// FailInsert makes InsertMany fail for the named tables
	FailInsert map[string]error
}

// NewMemoryDataSource creates an empty data source
func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		tables:     make(map[string][]Record),
		FailFetch:  make(map[string]error),
		FailInsert: make(map[string]error),
	}
}

// CreateTable registers a table with its initial rows
func (m *MemoryDataSource) CreateTable(name string, rows ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = cloneRecords(rows)
}

// SetForeignKeys enables foreign key introspection
func (m *MemoryDataSource) SetForeignKeys(fks []ForeignKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foreignKeys = append([]ForeignKey(nil), fks...)
}

// Rows returns a copy of the rows of a table
func (m *MemoryDataSource) Rows(table string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecords(m.tables[table])
}

func (m *MemoryDataSource) ListTables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryDataSource) FetchAllRows(ctx context.Context, table string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.FailFetch[table]; err != nil {
		return nil, err
	}
	rows, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	out := cloneRecords(rows)
	sort.SliceStable(out, func(i, j int) bool {
		return createdAt(out[i]).Before(createdAt(out[j]))
	})
	return out, nil
}

func (m *MemoryDataSource) DeleteAll(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		return fmt.Errorf("table %s does not exist", table)
	}
	m.tables[table] = nil
	return nil
}

// DeleteRows removes the first n rows of a table
func (m *MemoryDataSource) DeleteRows(table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if n > len(rows) {
		n = len(rows)
	}
	m.tables[table] = rows[n:]
}

func (m *MemoryDataSource) InsertMany(ctx context.Context, table string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailInsert[table]; err != nil {
		return err
	}
	m.tables[table] = append(m.tables[table], cloneRecords(records)...)
	return nil
}

func (m *MemoryDataSource) CountRows(ctx context.Context, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("table %s does not exist", table)
	}
	return int64(len(rows)), nil
}

var (
	countQuery  = regexp.MustCompile("(?i)^\\s*select\\s+count\\(\\*\\)(?:\\s+as\\s+(\\w+))?\\s+from\\s+`?(\\w+)`?\\s*;?\\s*$")
	selectQuery = regexp.MustCompile("(?i)^\\s*select\\s+\\*\\s+from\\s+`?(\\w+)`?\\s*;?\\s*$")
)

// RawQuery understands the two statement shapes the engines issue:
// SELECT COUNT(*) [AS alias] FROM t and SELECT * FROM t
func (m *MemoryDataSource) RawQuery(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	if match := countQuery.FindStringSubmatch(query); match != nil {
		count, err := m.CountRows(ctx, match[2])
		if err != nil {
			return nil, err
		}
		alias := match[1]
		if alias == "" {
			alias = "COUNT(*)"
		}
		return []Record{{alias: count}}, nil
	}
	if match := selectQuery.FindStringSubmatch(query); match != nil {
		return m.FetchAllRows(ctx, match[1])
	}
	return nil, fmt.Errorf("memory data source: %w: %q", ErrNotSupported, query)
}

// ForeignKeys returns ErrNotSupported until SetForeignKeys is called
func (m *MemoryDataSource) ForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.foreignKeys == nil {
		return nil, ErrNotSupported
	}
	return append([]ForeignKey(nil), m.foreignKeys...), nil
}

func createdAt(r Record) time.Time {
	switch v := r["created_at"].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func cloneRecords(rows []Record) []Record {
	out := make([]Record, len(rows))
	for i, r := range rows {
		c := make(Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// MemoryIdentityProvider serves a fixed user list
type MemoryIdentityProvider struct {
	mu    sync.RWMutex
	users []User
	// Err makes ListUsers fail
	Err error
}

// NewMemoryIdentityProvider creates a provider returning users
func NewMemoryIdentityProvider(users ...User) *MemoryIdentityProvider {
	return &MemoryIdentityProvider{users: append([]User(nil), users...)}
}

// AddUser appends a user
func (p *MemoryIdentityProvider) AddUser(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, u)
}

func (p *MemoryIdentityProvider) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]User(nil), p.users...), nil
}

type memoryObject struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// MemoryObjectStore keeps buckets and objects in maps
type MemoryObjectStore struct {
	mu      sync.RWMutex
	buckets map[string]Bucket
	objects map[string]map[string]memoryObject

	// FailDownloads makes DownloadObject fail for "bucket/path" keys
	FailDownloads map[string]error
	// FailUploads makes UploadObject fail for "bucket/path" keys
	FailUploads map[string]error
	// ListErr makes ListBuckets fail
	ListErr error
}

// NewMemoryObjectStore creates an empty store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		buckets:       make(map[string]Bucket),
		objects:       make(map[string]map[string]memoryObject),
		FailDownloads: make(map[string]error),
		FailUploads:   make(map[string]error),
	}
}

// CreateBucket registers an empty bucket
func (s *MemoryObjectStore) CreateBucket(b Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.buckets[b.Name] = b
	if s.objects[b.Name] == nil {
		s.objects[b.Name] = make(map[string]memoryObject)
	}
}

// PutObject stores an object, creating the bucket if needed
func (s *MemoryObjectStore) PutObject(bucket, objectPath string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = Bucket{Name: bucket, CreatedAt: time.Now().UTC()}
		s.objects[bucket] = make(map[string]memoryObject)
	}
	s.objects[bucket][objectPath] = memoryObject{data: append([]byte(nil), data...), updatedAt: time.Now().UTC()}
}

// Object returns the stored bytes of an object
func (s *MemoryObjectStore) Object(bucket, objectPath string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[bucket][objectPath]
	return obj.data, ok
}

func (s *MemoryObjectStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	out := make([]Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, ok := s.objects[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	dir := strings.Trim(prefix, "/")
	if dir != "" {
		dir += "/"
	}

	seenDirs := make(map[string]bool)
	var out []ObjectEntry
	for key, obj := range objects {
		if !strings.HasPrefix(key, dir) {
			continue
		}
		rest := strings.TrimPrefix(key, dir)
		if i := strings.Index(rest, "/"); i >= 0 {
			name := rest[:i]
			if !seenDirs[name] {
				seenDirs[name] = true
				out = append(out, ObjectEntry{Name: name, Path: dir + name, IsDir: true})
			}
			continue
		}
		out = append(out, ObjectEntry{
			Name:      path.Base(key),
			Path:      key,
			Size:      int64(len(obj.data)),
			UpdatedAt: obj.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryObjectStore) DownloadObject(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.FailDownloads[bucket+"/"+objectPath]; err != nil {
		return nil, err
	}
	obj, ok := s.objects[bucket][objectPath]
	if !ok {
		return nil, fmt.Errorf("object %s/%s does not exist", bucket, objectPath)
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *MemoryObjectStore) UploadObject(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailUploads[bucket+"/"+objectPath]; err != nil {
		return err
	}
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = Bucket{Name: bucket, CreatedAt: time.Now().UTC()}
		s.objects[bucket] = make(map[string]memoryObject)
	}
	if _, exists := s.objects[bucket][objectPath]; exists && !opts.Overwrite {
		return fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrObjectExists)
	}
	s.objects[bucket][objectPath] = memoryObject{
		data:        append([]byte(nil), data...),
		contentType: opts.ContentType,
		updatedAt:   time.Now().UTC(),
	}
	return nil
}
