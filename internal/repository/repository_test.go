package repository

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

// getTestDB connects to the MySQL instance named by MYSQL_DSN.  The schema
// from schema.sql must already be applied.  Tests skip when no database is
// reachable so the suite stays runnable without infrastructure.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/freepicking?parseTime=true&loc=UTC&innodb_lock_wait_timeout=2"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	return db
}
