package file

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestReadList_Basic(t *testing.T) {
	t.Parallel()

	content := `
# comment line
https://example.com
   # indented comment
https://example.org

   https://example.net
`
	path := writeTempFile(t, content)

	got, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList error: %v", err)
	}

	want := []string{
		"https://example.com",
		"https://example.org",
		"https://example.net",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadList(%q) = %#v, want %#v", path, got, want)
	}
}

func TestReadList_EmptyFile(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "")
	got, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", got)
	}
}

func TestReadList_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := ReadList("does-not-exist-12345.txt")
	if err == nil {
		t.Fatalf("expected error for missing file, got nil")
	}
}

func TestReadList_InlineCommentsBOMAndDuplicates(t *testing.T) {
	t.Parallel()

	content := "\uFEFF/data/a.csv # first\n/data/b.csv.gz\n/data/a.csv\nhttps://x.example/o.csv?sig=a#frag\n"
	path := writeTempFile(t, content)

	got, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList error: %v", err)
	}
	want := []string{"/data/a.csv", "/data/b.csv.gz", "https://x.example/o.csv?sig=a#frag"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadList = %#v, want %#v", got, want)
	}
}

func TestReadList_LongLine(t *testing.T) {
	t.Parallel()

	long := "https://bucket.example/key.csv?X-Amz-Signature=" + strings.Repeat("f", 100<<10)
	path := writeTempFile(t, long+"\n")

	got, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList error: %v", err)
	}
	if len(got) != 1 || got[0] != long {
		t.Fatalf("long entry was not preserved (len %d)", len(got))
	}
}
