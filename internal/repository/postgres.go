package repository

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/vecina/internal/domain"
	_ "github.com/lib/pq"
)

// postgresDSN builds a lib/pq keyword/value connection string. Empty
// user and password are left out so pq can fall back to PGUSER/PGPASSWORD.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "vecina"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + pqQuote(host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + pqQuote(dbname),
		"sslmode=" + pqQuote(sslmode),
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, "user="+pqQuote(cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, "password="+pqQuote(cfg.PostgresPassword))
	}
	return strings.Join(parts, " ")
}

// pqQuote single-quotes a value when it contains characters pq would
// otherwise split on.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
