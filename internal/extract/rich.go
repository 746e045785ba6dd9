package extract

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractRich handles OpenDocument text and RTF. cat sniffs the format from the bytes.
func extractRich(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return strings.TrimSpace(text), nil
}
