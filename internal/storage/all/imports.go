// Package all registers every built-in sink with the storage factory.
//
// Import it for its side effects in a wiring layer such as cmd/async-csv:
//
//	import _ "github.com/jwindhaber/async-csv/internal/storage/all"
//
// after which storage.New accepts the kinds "postgres", "mssql", "mysql",
// "sqlite", "csv", "parquet", "xlsx" and "discard". A binary that needs
// fewer backends can import the backend packages it wants directly.
package all

import (
	_ "github.com/jwindhaber/async-csv/internal/storage/csvfile"
	_ "github.com/jwindhaber/async-csv/internal/storage/discard"
	_ "github.com/jwindhaber/async-csv/internal/storage/mssql"
	_ "github.com/jwindhaber/async-csv/internal/storage/mysql"
	_ "github.com/jwindhaber/async-csv/internal/storage/parquetfile"
	_ "github.com/jwindhaber/async-csv/internal/storage/postgres"
	_ "github.com/jwindhaber/async-csv/internal/storage/sqlite"
	_ "github.com/jwindhaber/async-csv/internal/storage/xlsxfile"
)
