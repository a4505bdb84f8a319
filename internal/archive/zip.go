package archive

import (
	"archive/zip"
	"io"
	"strings"
)

type zipReader struct {
	rc  *zip.ReadCloser
	idx int
}

func openZip(path string) (Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &zipReader{rc: rc}, nil
}

func (z *zipReader) Next() (*File, error) {
	if z.idx >= len(z.rc.File) {
		return nil, io.EOF
	}
	f := z.rc.File[z.idx]
	z.idx++

	name := f.Name
	if f.NonUTF8 {
		name = DecodeName([]byte(name))
	}
	name = strings.ReplaceAll(name, `\`, "/")

	encrypted := f.Flags&0x1 != 0

	return &File{
		Name: name,
		Dir:  strings.HasSuffix(name, "/") || f.FileInfo().IsDir(),
		open: func() (io.ReadCloser, error) {
			if encrypted {
				return nil, ErrEncrypted
			}
			return f.Open()
		},
	}, nil
}

func (z *zipReader) Close() error {
	return z.rc.Close()
}
