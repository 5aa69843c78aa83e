package inference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// LoadPrompt reads the instruction file sent with every image. The file is expected to
// be UTF-8; anything else is decoded as Latin-1.
func LoadPrompt(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: prompt file %s", ErrMissingInput, path)
		}
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	text := string(b)
	if !utf8.Valid(b) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			return "", fmt.Errorf("decode prompt file as latin-1: %w", err)
		}
		text = string(decoded)
	}
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return text, nil
}
