package archive

import (
	"io"
	"os"
	"strings"

	"github.com/nwaples/rardecode"
)

type rarReader struct {
	f  *os.File
	rr *rardecode.Reader
}

func openRar(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rarReader{f: f, rr: rr}, nil
}

func (r *rarReader) Next() (*File, error) {
	hdr, err := r.rr.Next()
	if err != nil {
		return nil, err // rardecode returns io.EOF itself
	}

	// Decode before touching separators: a raw Shift_JIS name may
	// contain 0x5C as a trail byte.
	name := strings.ReplaceAll(DecodeName([]byte(hdr.Name)), `\`, "/")

	return &File{
		Name: name,
		Dir:  hdr.IsDir,
		// The decoder is a single stream; the entry body must be read
		// before the next call to Next.
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(r.rr), nil
		},
	}, nil
}

func (r *rarReader) Close() error {
	return r.f.Close()
}
