//go:build purego

package rowstore

import (
	"fmt"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

func dsn(path string, busyMillis int64) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_txlock=immediate", path, busyMillis)
}
