package archive

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// DecodeName converts a raw entry name to UTF-8. Names that are already
// valid UTF-8 pass through; anything else is treated as Shift_JIS,
// which covers the archives produced by Japanese packing tools. Bytes
// that survive neither interpretation are replaced with '_' so the
// result is always a usable path component.
func DecodeName(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
	if err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(raw), "_")
}
