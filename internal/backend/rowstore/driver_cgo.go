//go:build !purego

package rowstore

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// dsn enables WAL so readers never wait on a writer, and immediate write
// transactions so writers queue on busy_timeout instead of failing mid-way.
func dsn(path string, busyMillis int64) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate", path, busyMillis)
}
