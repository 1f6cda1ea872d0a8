package engine

import (
	"bytes"
	"context"
	"os"
	"runtime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

// SourceLoader reads the text of a step.
type SourceLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// FileLoader reads step sources from the local filesystem.
type FileLoader struct {
	// Fallback decodes content that is not valid UTF-8. Defaults to the
	// platform's single-byte code page.
	Fallback encoding.Encoding
}

// NewFileLoader returns a FileLoader using the platform default fallback.
func NewFileLoader() *FileLoader {
	return &FileLoader{Fallback: PlatformEncoding()}
}

// Load reads path and decodes it. I/O failures are returned as
// *errors.LoadError; decoding never fails.
func (l *FileLoader) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", kettleerrors.NewLoadError(path, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", kettleerrors.NewLoadError(path, err)
	}
	return Decode(raw, l.fallback()), nil
}

func (l *FileLoader) fallback() encoding.Encoding {
	if l == nil || l.Fallback == nil {
		return PlatformEncoding()
	}
	return l.Fallback
}

// Decode tries the primary decoding first: UTF-8, with a leading byte order
// mark honoured and stripped (a UTF-16 mark switches to UTF-16). Content that
// is not valid in that encoding is decoded with fallback instead.
func Decode(raw []byte, fallback encoding.Encoding) string {
	if utf8.Valid(raw) || hasUTF16BOM(raw) {
		primary := unicode.BOMOverride(unicode.UTF8.NewDecoder())
		if decoded, _, err := transform.Bytes(primary, raw); err == nil {
			return string(decoded)
		}
	}

	if fallback == nil {
		fallback = PlatformEncoding()
	}
	decoded, err := fallback.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(decoded)
}

func hasUTF16BOM(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) || bytes.HasPrefix(raw, []byte{0xFF, 0xFE})
}

// PlatformEncoding is the default code page used when step sources are not
// UTF-8.
func PlatformEncoding() encoding.Encoding {
	if runtime.GOOS == "windows" {
		return charmap.Windows1252
	}
	return charmap.ISO8859_1
}
