package db

import (
	"strings"
	"testing"

	"Tidelink/config"

	mysqldriver "github.com/go-sql-driver/mysql"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.Database{Host: "db.internal", Port: "3307", User: "link", Password: "p@ss:word", Name: "tidelink"})

	parsed, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q) = %v", dsn, err)
	}
	if parsed.User != "link" || parsed.Passwd != "p@ss:word" {
		t.Errorf("credentials = %s / %s", parsed.User, parsed.Passwd)
	}
	if parsed.Addr != "db.internal:3307" || parsed.DBName != "tidelink" {
		t.Errorf("addr %s db %s", parsed.Addr, parsed.DBName)
	}
	if !parsed.ParseTime {
		t.Error("parseTime not set")
	}
	// charset 解析后存放在未导出字段里，直接检查连接串
	if !strings.Contains(dsn, "charset=utf8mb4") {
		t.Errorf("DSN %q has no utf8mb4 charset", dsn)
	}
}
