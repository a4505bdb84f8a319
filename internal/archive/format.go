package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies an archive container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatRar
	Format7z
	FormatLZH
)

// String returns the conventional extension-like name of the format.
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatRar:
		return "rar"
	case Format7z:
		return "7z"
	case FormatLZH:
		return "lzh"
	default:
		return "unknown"
	}
}

var sevenZipMagic = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}

// DetectBytes identifies the format from the first bytes of a file.
// LZH has no real magic number; its method id at offset 2 always
// starts with "-l" ("-lh5-", "-lhd-", ...), which is distinctive
// enough in practice.
func DetectBytes(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, []byte("PK")):
		return FormatZip
	case bytes.HasPrefix(head, []byte("Rar!")):
		return FormatRar
	case bytes.HasPrefix(head, sevenZipMagic):
		return Format7z
	case len(head) >= 4 && head[2] == '-' && head[3] == 'l':
		return FormatLZH
	default:
		return FormatUnknown
	}
}

// Detect identifies the archive format of the file at path, preferring
// magic bytes and falling back to the extension.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, _ := f.Read(head)
	if format := DetectBytes(head[:n]); format != FormatUnknown {
		return format, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return FormatZip, nil
	case ".rar":
		return FormatRar, nil
	case ".7z":
		return Format7z, nil
	case ".lzh", ".lha":
		return FormatLZH, nil
	}
	return FormatUnknown, nil
}

// IsHTML reports whether head looks like the start of an HTML document.
// Mirror hosts and expired share links tend to answer archive URLs with
// an error page and status 200, so downloads are sniffed before they
// are accepted.
func IsHTML(head []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf"))
	for _, prefix := range [][]byte{
		[]byte("<!doctype html"),
		[]byte("<html"),
		[]byte("<head"),
		[]byte("<body"),
	} {
		if bytes.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
