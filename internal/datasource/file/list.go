package file

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxListLine bounds a single list entry; presigned URLs can be long.
const maxListLine = 1 << 20

// ReadList reads a source list: one path or URL per line. Blank lines and
// lines starting with '#' are skipped, as is anything after " #" on a line.
// A leading UTF-8 BOM is ignored. Duplicates are dropped, first one wins.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := readList(f)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return out, nil
}

func readList(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxListLine)

	var out []string
	seen := map[string]bool{}
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out, sc.Err()
}
