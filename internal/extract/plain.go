package extract

import "strings"

// extractPlain returns content as a string, replacing invalid UTF-8 sequences.
func extractPlain(content []byte) (string, error) {
	return strings.ToValidUTF8(string(content), "\ufffd"), nil
}
