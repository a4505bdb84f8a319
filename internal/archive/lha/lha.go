// Package lha reads LZH (LHA) archives, the container format still used
// by many older Japanese chart archives.
//
// The reader walks level 0, 1 and 2 headers and decodes -lh0- (stored)
// and the -lh4- through -lh7- static-Huffman methods. Entry bodies are
// skipped by seeking, so irrelevant entries cost a header parse and
// nothing more. Filenames are returned as raw bytes because LZH headers
// predate any encoding declaration; callers decide how to decode them.
package lha

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnsupportedMethod is returned when an entry uses a compression
	// method this reader does not decode (e.g. the ancient -lh1-).
	ErrUnsupportedMethod = errors.New("lha: unsupported compression method")

	// ErrChecksum is returned when a decoded entry fails its CRC16.
	ErrChecksum = errors.New("lha: crc mismatch")

	errCorrupt = errors.New("lha: corrupt header")
)

// Header describes one archive entry.
type Header struct {
	// Method is the five-byte method id, e.g. "-lh5-".
	Method string

	// RawName is the entry path exactly as stored, with directory
	// separators normalized to '/'. The bytes may be Shift_JIS.
	RawName []byte

	// CompressedSize is the size of the entry body in the archive.
	CompressedSize int64

	// OriginalSize is the decompressed size.
	OriginalSize int64

	// CRC16 is the stored checksum of the decompressed data.
	CRC16 uint16

	// Level is the header level (0, 1 or 2).
	Level byte
}

// IsDir reports whether the entry is a directory marker.
func (h *Header) IsDir() bool {
	return h.Method == "-lhd-" || bytes.HasSuffix(h.RawName, []byte{'/'})
}

// Reader reads an LZH archive sequentially.
//
// Typical use:
//
//	r := lha.NewReader(f)
//	for {
//	    hdr, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    // hdr describes the entry; r.Open() decodes its body.
//	}
type Reader struct {
	r         io.ReadSeeker
	cur       *Header
	bodyStart int64
	opened    bool
}

// NewReader creates a Reader over src, which must support seeking so
// unwanted entry bodies can be skipped without decompression.
func NewReader(src io.ReadSeeker) *Reader {
	return &Reader{r: src}
}

// Next advances to the next entry header. It returns io.EOF after the
// last entry. Any unread body of the current entry is skipped by
// seeking, never by decompressing.
func (r *Reader) Next() (*Header, error) {
	if r.cur != nil {
		if _, err := r.r.Seek(r.bodyStart+r.cur.CompressedSize, io.SeekStart); err != nil {
			return nil, err
		}
		r.cur = nil
		r.opened = false
	}

	hdr, err := readHeader(r.r)
	if err != nil {
		return nil, err
	}

	pos, err := r.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	r.cur = hdr
	r.bodyStart = pos
	return hdr, nil
}

// Open returns a reader for the current entry's decompressed body. The
// returned reader is valid until the next call to Next and verifies the
// entry CRC16 at EOF.
func (r *Reader) Open() (io.Reader, error) {
	if r.cur == nil {
		return nil, errors.New("lha: Open called before Next")
	}
	if r.opened {
		return nil, errors.New("lha: entry already opened")
	}
	if _, err := r.r.Seek(r.bodyStart, io.SeekStart); err != nil {
		return nil, err
	}
	r.opened = true

	body := io.LimitReader(r.r, r.cur.CompressedSize)

	switch r.cur.Method {
	case "-lh0-", "-lz4-", "-pm0-":
		return &crcReader{r: io.LimitReader(body, r.cur.OriginalSize), want: r.cur.CRC16}, nil
	case "-lhd-":
		return &crcReader{r: bytes.NewReader(nil), want: 0}, nil
	case "-lh4-", "-lh5-", "-lh6-", "-lh7-":
		dec, err := newDecoder(r.cur.Method, bufio.NewReader(body), r.cur.OriginalSize)
		if err != nil {
			return nil, err
		}
		return &crcReader{r: dec, want: r.cur.CRC16}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, r.cur.Method)
	}
}

// crcReader verifies the ARC-style CRC16 of everything it reads once
// the underlying reader is exhausted.
type crcReader struct {
	r    io.Reader
	crc  uint16
	want uint16
	done bool
}

func (c *crcReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	n, err := c.r.Read(p)
	c.crc = crc16Update(c.crc, p[:n])
	if err == io.EOF {
		c.done = true
		if c.crc != c.want {
			return n, fmt.Errorf("%w: got %04x, want %04x", ErrChecksum, c.crc, c.want)
		}
	}
	return n, err
}

var crc16Table = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i)
		for k := 0; k < 8; k++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return
}()

func crc16Update(crc uint16, p []byte) uint16 {
	for _, b := range p {
		crc = crc>>8 ^ crc16Table[byte(crc)^b]
	}
	return crc
}

// readHeader parses one entry header at the current position. A zero
// first byte is the archive terminator.
func readHeader(r io.Reader) (*Header, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	if first[0] == 0 {
		return nil, io.EOF
	}

	// Pull in enough to see the level byte at offset 20.
	buf := make([]byte, 21)
	buf[0] = first[0]
	if _, err := io.ReadFull(r, buf[1:]); err != nil {
		return nil, errCorrupt
	}

	level := buf[20]
	switch level {
	case 0, 1:
		return readHeader01(r, buf, level)
	case 2:
		return readHeader2(r, buf)
	default:
		return nil, fmt.Errorf("%w: unknown header level %d", errCorrupt, level)
	}
}

// readHeader01 finishes a level 0 or level 1 header. buf holds the
// first 21 bytes.
func readHeader01(r io.Reader, buf []byte, level byte) (*Header, error) {
	headerLen := int(buf[0]) + 2
	if headerLen < len(buf) {
		return nil, errCorrupt
	}
	rest := make([]byte, headerLen-len(buf))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errCorrupt
	}
	full := append(buf, rest...)

	// Header checksum covers everything after the first two bytes.
	var sum byte
	for _, b := range full[2:] {
		sum += b
	}
	if sum != full[1] {
		return nil, fmt.Errorf("%w: header checksum mismatch", errCorrupt)
	}

	hdr := &Header{
		Method:         string(full[2:7]),
		CompressedSize: int64(binary.LittleEndian.Uint32(full[7:11])),
		OriginalSize:   int64(binary.LittleEndian.Uint32(full[11:15])),
		Level:          level,
	}

	nameLen := int(full[21])
	if 22+nameLen+2 > len(full) {
		return nil, errCorrupt
	}
	hdr.RawName = normalizeSeparators(full[22 : 22+nameLen])
	hdr.CRC16 = binary.LittleEndian.Uint16(full[22+nameLen : 22+nameLen+2])

	if level == 1 {
		// The last two bytes of the base header hold the first extended
		// header size; the size field at offset 7 counts the chain as
		// well, so walk it and subtract to get the true body size.
		if len(full) < 22+nameLen+5 {
			return nil, errCorrupt
		}
		first := int(binary.LittleEndian.Uint16(full[len(full)-2:]))
		extTotal, extName, extDir, err := readExtChain(r, first)
		if err != nil {
			return nil, err
		}
		hdr.CompressedSize -= int64(extTotal)
		if hdr.CompressedSize < 0 {
			return nil, errCorrupt
		}
		applyExtNames(hdr, extName, extDir)
	}

	return hdr, nil
}

// readHeader2 finishes a level 2 header. buf holds the first 21 bytes;
// the total header size is a little-endian u16 at offset 0.
func readHeader2(r io.Reader, buf []byte) (*Header, error) {
	headerLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	if headerLen < 26 {
		return nil, errCorrupt
	}
	rest := make([]byte, headerLen-len(buf))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errCorrupt
	}
	full := append(buf, rest...)

	hdr := &Header{
		Method:         string(full[2:7]),
		CompressedSize: int64(binary.LittleEndian.Uint32(full[7:11])),
		OriginalSize:   int64(binary.LittleEndian.Uint32(full[11:15])),
		CRC16:          binary.LittleEndian.Uint16(full[21:23]),
		Level:          2,
	}

	// Extended header chain lives inside the header block, first size
	// field at offset 24.
	var extName, extDir []byte
	pos := 24
	for {
		if pos+2 > len(full) {
			return nil, errCorrupt
		}
		size := int(binary.LittleEndian.Uint16(full[pos : pos+2]))
		pos += 2
		if size == 0 {
			break
		}
		if size < 3 || pos+size-2 > len(full) {
			return nil, errCorrupt
		}
		typ := full[pos]
		payload := full[pos+1 : pos+size-2]
		switch typ {
		case extFilename:
			extName = payload
		case extDirname:
			extDir = payload
		}
		pos += size - 2
	}

	applyExtNames(hdr, extName, extDir)
	return hdr, nil
}

const (
	extFilename = 0x01
	extDirname  = 0x02
)

// readExtChain walks a level-1 extended header chain following the base
// header. Each block declares its own size including the trailing
// next-size field. It returns the total byte count of the chain (which
// the level-1 size field includes) plus any filename/dirname payloads.
func readExtChain(r io.Reader, size int) (total int, name, dir []byte, err error) {
	var sizeBuf [2]byte

	for size != 0 {
		if size < 3 {
			return 0, nil, nil, errCorrupt
		}
		block := make([]byte, size-2)
		if _, err = io.ReadFull(r, block); err != nil {
			return 0, nil, nil, errCorrupt
		}
		switch block[0] {
		case extFilename:
			name = block[1:]
		case extDirname:
			dir = block[1:]
		}
		total += size

		if _, err = io.ReadFull(r, sizeBuf[:]); err != nil {
			return 0, nil, nil, errCorrupt
		}
		size = int(binary.LittleEndian.Uint16(sizeBuf[:]))
	}

	return total, name, dir, nil
}

// applyExtNames overrides the base-header name with extended filename
// and dirname headers when present. Dirname components are 0xFF
// separated.
func applyExtNames(hdr *Header, name, dir []byte) {
	if len(name) > 0 {
		hdr.RawName = normalizeSeparators(name)
	}
	if len(dir) > 0 {
		prefix := bytes.ReplaceAll(dir, []byte{0xFF}, []byte{'/'})
		if !bytes.HasSuffix(prefix, []byte{'/'}) {
			prefix = append(prefix, '/')
		}
		hdr.RawName = append(prefix, hdr.RawName...)
	}
}

// normalizeSeparators converts the DOS-style backslash separators used
// in level 0/1 pathnames to forward slashes. 0x5C doubles as the trail
// byte of Shift_JIS double-byte characters, so lead bytes are skipped
// over rather than inspected.
func normalizeSeparators(raw []byte) []byte {
	out := make([]byte, len(raw))
	copy(out, raw)
	for i := 0; i < len(out); i++ {
		b := out[i]
		if isSJISLead(b) && i+1 < len(out) {
			i++
			continue
		}
		if b == '\\' {
			out[i] = '/'
		}
	}
	return out
}

func isSJISLead(b byte) bool {
	return (b >= 0x81 && b <= 0x9F) || (b >= 0xE0 && b <= 0xFC)
}
