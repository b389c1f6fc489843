package cache

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// containsMatcher 只要求实际 SQL 包含期望的片段
var containsMatcher = sqlmock.QueryMatcherFunc(func(expected, actual string) error {
	if !strings.Contains(actual, expected) {
		return fmt.Errorf("query %q does not contain %q", actual, expected)
	}
	return nil
})

func newMockStore(t *testing.T, now time.Time) (*SQLSessionStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(containsMatcher))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &SQLSessionStore{db: gdb, now: func() time.Time { return now }}, mock
}

var sessionColumns = []string{"node", "session_id", "expires_at", "updated_at"}

func TestSQLSessionStoreGet(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name string
		rows *sqlmock.Rows
		want string
	}{
		{"missing", sqlmock.NewRows(sessionColumns), ""},
		{"no expiry", sqlmock.NewRows(sessionColumns).AddRow("main", "sid-1", nil, now), "sid-1"},
		{"not expired", sqlmock.NewRows(sessionColumns).AddRow("main", "sid-1", later, now), "sid-1"},
		{"expired", sqlmock.NewRows(sessionColumns).AddRow("main", "sid-1", earlier, now), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t, now)
			mock.ExpectQuery("FROM `node_sessions` WHERE node = ?").WillReturnRows(tt.rows)

			got, err := store.Get(context.Background(), "main")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Get() = %q, want %q", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

// expiresArg 匹配 expires_at 参数，want 为 nil 表示 NULL
type expiresArg struct{ want *time.Time }

func (e expiresArg) Match(v driver.Value) bool {
	if e.want == nil {
		return v == nil
	}
	got, ok := v.(time.Time)
	return ok && got.Equal(*e.want)
}

func TestSQLSessionStoreSaveUpserts(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(5 * time.Minute)

	tests := []struct {
		name string
		ttl  time.Duration
		want *time.Time
	}{
		{"with ttl", 5 * time.Minute, &expires},
		{"no expiry", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t, now)
			mock.ExpectBegin()
			mock.ExpectExec("ON DUPLICATE KEY UPDATE `session_id`=VALUES(`session_id`),`expires_at`=VALUES(`expires_at`)").
				WithArgs("main", "sid-2", expiresArg{tt.want}, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectCommit()

			if err := store.Save(context.Background(), "main", "sid-2", tt.ttl); err != nil {
				t.Fatal(err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}
