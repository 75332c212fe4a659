package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DDLBootstrapper creates the target table of a database backend. Every
// column is created as text; values are stored as parsed.
type DDLBootstrapper func(ctx context.Context, repo Repository, table string, columns []string) error

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL registers (or replaces) the bootstrapper for kind.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// HasDDL reports whether kind has a bootstrapper. File sinks do not.
func HasDDL(kind string) bool {
	ddlMu.RLock()
	defer ddlMu.RUnlock()
	_, ok := ddlFns[kind]
	return ok
}

// EnsureTable runs the bootstrapper registered for kind.
func EnsureTable(ctx context.Context, kind string, repo Repository, table string, columns []string) error {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL bootstrapper registered for storage.kind=%q", kind)
	}
	return fn(ctx, repo, table, columns)
}

// TextTableSQL renders "CREATE TABLE IF NOT EXISTS" with every column typed
// textType. quote quotes one identifier segment; dotted table names are
// quoted per segment.
func TextTableSQL(table string, columns []string, textType string, quote func(string) string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return "", fmt.Errorf("ddl: table name must not be empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c) == "" {
			return "", fmt.Errorf("ddl: column %d has an empty name", i)
		}
		cols[i] = quote(c) + " " + textType
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", QuoteFQN(table, quote), strings.Join(cols, ",\n  ")), nil
}

// QuoteFQN quotes each dot-separated segment of name. Empty segments are
// dropped.
func QuoteFQN(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, quote(p))
		}
	}
	return strings.Join(out, ".")
}

// QuoteDouble quotes an identifier ANSI style: "name", doubling quotes.
func QuoteDouble(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
