package archive

import (
	"io"
	"os"

	"github.com/nekoshiro/bmstable-downloader/internal/archive/lha"
)

type lhaArchiveReader struct {
	f  *os.File
	lr *lha.Reader
}

func openLHA(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &lhaArchiveReader{f: f, lr: lha.NewReader(f)}, nil
}

func (l *lhaArchiveReader) Next() (*File, error) {
	hdr, err := l.lr.Next()
	if err != nil {
		return nil, err
	}

	return &File{
		Name: DecodeName(hdr.RawName),
		Dir:  hdr.IsDir(),
		open: func() (io.ReadCloser, error) {
			body, err := l.lr.Open()
			if err != nil {
				return nil, err
			}
			return io.NopCloser(body), nil
		},
	}, nil
}

func (l *lhaArchiveReader) Close() error {
	return l.f.Close()
}
