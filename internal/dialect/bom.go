package dialect

import "bytes"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMLen returns 3 when data starts with a UTF-8 byte order mark and 0
// otherwise. Only the first chunk of a source can carry one.
func BOMLen(data []byte) int {
	if bytes.HasPrefix(data, utf8BOM) {
		return len(utf8BOM)
	}
	return 0
}
