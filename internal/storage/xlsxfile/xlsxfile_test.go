package xlsxfile

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jwindhaber/async-csv/internal/storage"
)

func rowsOf(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestRepository_WriteAndReadBack(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "out.xlsx")
	repo, err := storage.New(context.Background(), storage.Config{Kind: Kind, Path: p, Sheet: "towns"})
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	cols := []string{"id", "city"}
	_, err = repo.CopyFrom(ctx, cols, [][]any{{"1", "Brno"}, {"2", "Olomouc"}})
	require.NoError(t, err)
	n, err := repo.CopyFrom(ctx, cols, [][]any{{"3", "Praha"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, repo.(storage.Flusher).Flush(ctx, cols))

	assert.Equal(t, [][]string{
		{"id", "city"},
		{"1", "Brno"},
		{"2", "Olomouc"},
		{"3", "Praha"},
	}, rowsOf(t, p, "towns"))
}

func TestRepository_HeaderOnly(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "empty.xlsx")
	repo, err := Open(storage.Config{Path: p})
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Flush(context.Background(), []string{"a", "b"}))

	assert.Equal(t, [][]string{{"a", "b"}}, rowsOf(t, p, defaultSheet))
}

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	_, err := Open(storage.Config{})
	assert.Error(t, err)
	_, err = Open(storage.Config{Path: "x.xlsx", Sheet: strings.Repeat("s", 32)})
	assert.ErrorContains(t, err, "exceeds")

	repo, err := Open(storage.Config{Path: filepath.Join(t.TempDir(), "x.xlsx")})
	require.NoError(t, err)
	defer repo.Close()
	_, err = repo.CopyFrom(context.Background(), []string{"a", "b"}, [][]any{{"1"}})
	assert.ErrorContains(t, err, "want 2")
	assert.Error(t, repo.Exec(context.Background(), "x"))
}
