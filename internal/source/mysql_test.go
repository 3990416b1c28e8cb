package source

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "migration-guard/internal/errors"
)

func newMockSource(t *testing.T) (*MySQLDataSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLDataSourceWithDB(db, "appdb", nil), mock
}

func TestMySQLDataSource_ListTables(t *testing.T) {
	ds, mock := newMockSource(t)

	mock.ExpectQuery("SELECT TABLE_NAME FROM information_schema.TABLES").
		WithArgs("appdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("orders").
			AddRow("users"))

	tables, err := ds.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDataSource_FetchAllRowsOrdersByCreatedAt(t *testing.T) {
	ds, mock := newMockSource(t)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders` ORDER BY `created_at`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at"}).
			AddRow(1, []byte("paid"), created).
			AddRow(2, []byte("open"), created.Add(time.Hour)))

	rows, err := ds.FetchAllRows(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "paid", rows[0]["status"])
	assert.Equal(t, created, rows[0]["created_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDataSource_FetchAllRowsWithoutCreatedAt(t *testing.T) {
	ds, mock := newMockSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `tags` ORDER BY `created_at`")).
		WillReturnError(&mysql.MySQLError{Number: 1054, Message: "Unknown column 'created_at' in 'order clause'"})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `tags`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(1, "red"))

	rows, err := ds.FetchAllRows(context.Background(), "tags")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "red", rows[0]["label"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDataSource_InsertManyChunks(t *testing.T) {
	ds, mock := newMockSource(t)
	ds.batchSize = 2

	records := []Record{
		{"id": 1, "name": "a"},
		{"id": 2, "name": "b"},
		{"id": 3, "name": "c"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`id`, `name`) VALUES (?,?), (?,?)")).
		WithArgs(1, "a", 2, "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`id`, `name`) VALUES (?,?)")).
		WithArgs(3, "c").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.InsertMany(context.Background(), "users", records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDataSource_DeleteAndCount(t *testing.T) {
	ds, mock := newMockSource(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	ctx := context.Background()
	require.NoError(t, ds.DeleteAll(ctx, "orders"))
	count, err := ds.CountRows(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDataSource_RejectsBadIdentifiers(t *testing.T) {
	ds, _ := newMockSource(t)

	_, err := ds.CountRows(context.Background(), "orders; DROP TABLE users")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestMySQLDataSource_ForeignKeys(t *testing.T) {
	ds, mock := newMockSource(t)

	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").
		WithArgs("appdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}).
			AddRow("order_items", "order_id", "orders", "id").
			AddRow("orders", "customer_id", "customers", "id"))

	fks, err := ds.ForeignKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, fks, 2)
	assert.Equal(t, ForeignKey{Table: "order_items", Column: "order_id", ReferencedTable: "orders", ReferencedColumn: "id"}, fks[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
