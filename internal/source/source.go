// Package source defines the live systems a migration reads from and
// restores into: the relational database, the identity provider admin API
// and object storage.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrObjectExists is returned by UploadObject when overwrite is off and the
// object is already present
var ErrObjectExists = errors.New("object already exists")

// ErrNotSupported is returned by optional capabilities an implementation lacks
var ErrNotSupported = errors.New("operation not supported")

// Record is one table row keyed by column name
type Record map[string]interface{}

// DataSource is the relational database being migrated
type DataSource interface {
	ListTables(ctx context.Context) ([]string, error)
	// FetchAllRows returns every row ordered by creation time when the table
	// has a created_at column
	FetchAllRows(ctx context.Context, table string) ([]Record, error)
	DeleteAll(ctx context.Context, table string) error
	InsertMany(ctx context.Context, table string, records []Record) error
	CountRows(ctx context.Context, table string) (int64, error)
	RawQuery(ctx context.Context, query string, args ...interface{}) ([]Record, error)
}

// ForeignKey is one referencing column
type ForeignKey struct {
	Table            string `json:"table"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// ForeignKeyIntrospector is implemented by data sources that can report
// their foreign key constraints
type ForeignKeyIntrospector interface {
	ForeignKeys(ctx context.Context) ([]ForeignKey, error)
}

// User is one identity provider account
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email,omitempty"`
	Phone        string                 `json:"phone,omitempty"`
	Role         string                 `json:"role,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	LastSignInAt *time.Time             `json:"last_sign_in_at,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

// IdentityProvider is the identity admin API
type IdentityProvider interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// Bucket is a top-level object storage container
type Bucket struct {
	Name      string    `json:"name"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ObjectEntry is one child of a listed prefix. Directories carry IsDir and
// are listed again with Path as the new prefix.
type ObjectEntry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	IsDir     bool      `json:"is_dir"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// UploadOptions controls UploadObject
type UploadOptions struct {
	Overwrite   bool
	ContentType string
}

// ObjectStore is the object storage provider API
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	// ListObjects returns the direct children of prefix ("" is the bucket root)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error)
	DownloadObject(ctx context.Context, bucket, path string) ([]byte, error)
	UploadObject(ctx context.Context, bucket, path string, data []byte, opts UploadOptions) error
}
