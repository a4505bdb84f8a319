package archive

import (
	"io"
	"strings"

	"github.com/bodgit/sevenzip"
)

type sevenZipReader struct {
	rc  *sevenzip.ReadCloser
	idx int
}

func openSevenZip(path string) (Reader, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &sevenZipReader{rc: rc}, nil
}

func (s *sevenZipReader) Next() (*File, error) {
	if s.idx >= len(s.rc.File) {
		return nil, io.EOF
	}
	f := s.rc.File[s.idx]
	s.idx++

	return &File{
		Name: strings.ReplaceAll(f.Name, `\`, "/"),
		Dir:  f.FileInfo().IsDir(),
		open: f.Open,
	}, nil
}

func (s *sevenZipReader) Close() error {
	return s.rc.Close()
}
