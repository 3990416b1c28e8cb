package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

const mysqlErrBadField = 1054

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_$]+$`)

// MySQLDataSource implements DataSource and ForeignKeyIntrospector against MySQL
type MySQLDataSource struct {
	db        *sql.DB
	schema    string
	batchSize int
	logger    *logging.Logger
}

// NewMySQLDataSource opens a connection pool, retrying transient failures
func NewMySQLDataSource(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (*MySQLDataSource, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	startTime := time.Now()
	logger.WithFields(map[string]interface{}{
		"host":     cfg.Host,
		"database": cfg.Database,
		"port":     cfg.Port,
	}).Info("Attempting database connection")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var db *sql.DB
	err := apperrors.NewDefaultRetryHandler().Retry(connectCtx, func() error {
		var openErr error
		db, openErr = sql.Open("mysql", cfg.DSN())
		if openErr != nil {
			return apperrors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := db.PingContext(connectCtx); pingErr != nil {
			db.Close()
			return apperrors.WrapError(pingErr, "failed to ping database")
		}
		return nil
	})

	logger.LogDatabaseConnection(cfg.Host, cfg.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}

	ds := NewMySQLDataSourceWithDB(db, cfg.Database, logger)
	if cfg.BatchSize > 0 {
		ds.batchSize = cfg.BatchSize
	}
	return ds, nil
}

// NewMySQLDataSourceWithDB wraps an existing pool
func NewMySQLDataSourceWithDB(db *sql.DB, schema string, logger *logging.Logger) *MySQLDataSource {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MySQLDataSource{db: db, schema: schema, batchSize: 100, logger: logger}
}

// Close releases the pool
func (m *MySQLDataSource) Close() error {
	if m.db == nil {
		return nil
	}
	if err := m.db.Close(); err != nil {
		return apperrors.WrapError(err, "failed to close database connection")
	}
	return nil
}

func (m *MySQLDataSource) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	rows, err := m.db.QueryContext(ctx, query, m.schema)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.WrapError(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapError(err, "failed to list tables")
	}
	return tables, nil
}

// FetchAllRows orders by created_at and falls back to natural order when the
// table has no such column
func (m *MySQLDataSource) FetchAllRows(ctx context.Context, table string) ([]Record, error) {
	quoted, err := quoteIdentifier(table)
	if err != nil {
		return nil, err
	}

	records, err := m.RawQuery(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY `created_at`", quoted))
	if err == nil {
		return records, nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrBadField {
		m.logger.WithField("table", table).Debug("Table has no created_at column, reading in natural order")
		return m.RawQuery(ctx, fmt.Sprintf("SELECT * FROM %s", quoted))
	}
	return nil, err
}

func (m *MySQLDataSource) DeleteAll(ctx context.Context, table string) error {
	quoted, err := quoteIdentifier(table)
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoted)); err != nil {
		return apperrors.NewErrorClassifier().ClassifyError(err).WithContext("table", table)
	}
	return nil
}

// InsertMany writes records in multi-row INSERT statements of batchSize rows.
// The column list is the union of keys across records.
func (m *MySQLDataSource) InsertMany(ctx context.Context, table string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	quoted, err := quoteIdentifier(table)
	if err != nil {
		return err
	}

	columns := recordColumns(records)
	quotedColumns := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteIdentifier(c)
		if err != nil {
			return err
		}
		quotedColumns[i] = q
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	for start := 0; start < len(records); start += m.batchSize {
		end := start + m.batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(columns))
		for i, r := range chunk {
			placeholders[i] = rowPlaceholder
			for _, c := range columns {
				args = append(args, r[c])
			}
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quoted, strings.Join(quotedColumns, ", "), strings.Join(placeholders, ", "))
		if _, err := m.db.ExecContext(ctx, stmt, args...); err != nil {
			return apperrors.NewErrorClassifier().ClassifyError(err).
				WithContext("table", table).
				WithContext("offset", start)
		}
	}
	return nil
}

func (m *MySQLDataSource) CountRows(ctx context.Context, table string) (int64, error) {
	quoted, err := quoteIdentifier(table)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := m.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoted)).Scan(&count); err != nil {
		return 0, apperrors.NewErrorClassifier().ClassifyError(err).WithContext("table", table)
	}
	return count, nil
}

// RawQuery runs an arbitrary SELECT and returns rows keyed by column name.
// Byte slices are converted to strings.
func (m *MySQLDataSource) RawQuery(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to read result columns")
	}

	var records []Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.WrapError(err, "failed to scan row")
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (m *MySQLDataSource) ForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	const query = `SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, COLUMN_NAME`

	rows, err := m.db.QueryContext(ctx, query, m.schema)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to read foreign keys")
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Table, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, apperrors.WrapError(err, "failed to scan foreign key")
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func quoteIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("invalid identifier %q", name), nil)
	}
	return "`" + name + "`", nil
}

func recordColumns(records []Record) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	return columns
}
