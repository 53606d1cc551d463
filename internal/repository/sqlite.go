package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/vecina/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultSQLitePath = "./vecina.db"

// sqlitePragmas are applied on every connection modernc opens. WAL plus a
// busy timeout lets the CAS update loop retry instead of failing on a
// locked database.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN resolves the database path and builds the modernc DSN.
func sqliteDSN(cfg domain.RepositoryConfig) (path, dsn string) {
	path = cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return path, "file:" + path + "?" + strings.Join(params, "&")
}

func ensureSQLiteDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite directory %s: %w", dir, err)
	}
	return nil
}
