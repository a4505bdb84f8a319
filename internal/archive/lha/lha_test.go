package lha

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// crc16ARC("123456789") is the standard check value for this CRC.
const checkCRC = 0xBB3D

var checkData = []byte("123456789")

// buildLevel0 writes a level-0 -lh0- (stored) entry.
func buildLevel0(name, data []byte) []byte {
	base := make([]byte, 22+len(name)+2)
	copy(base[2:7], "-lh0-")
	binary.LittleEndian.PutUint32(base[7:11], uint32(len(data)))
	binary.LittleEndian.PutUint32(base[11:15], uint32(len(data)))
	base[19] = 0x20
	base[20] = 0
	base[21] = byte(len(name))
	copy(base[22:], name)
	binary.LittleEndian.PutUint16(base[22+len(name):], crc16Update(0, data))

	base[0] = byte(len(base) - 2)
	var sum byte
	for _, b := range base[2:] {
		sum += b
	}
	base[1] = sum

	return append(base, data...)
}

// buildLevel1 writes a level-1 -lh0- entry with the filename carried in
// an extended header.
func buildLevel1(name, data []byte) []byte {
	ext := append([]byte{extFilename}, name...)
	ext = append(ext, 0, 0) // terminating next-size
	// Declared size covers type, payload and the trailing next-size field.
	extSize := len(ext)

	base := make([]byte, 22+0+2+1+2)
	copy(base[2:7], "-lh0-")
	binary.LittleEndian.PutUint32(base[7:11], uint32(len(data)+extSize))
	binary.LittleEndian.PutUint32(base[11:15], uint32(len(data)))
	base[19] = 0x20
	base[20] = 1
	base[21] = 0 // empty base name
	binary.LittleEndian.PutUint16(base[22:24], crc16Update(0, data))
	base[24] = 'U'
	binary.LittleEndian.PutUint16(base[25:27], uint16(extSize))

	base[0] = byte(len(base) - 2)
	var sum byte
	for _, b := range base[2:] {
		sum += b
	}
	base[1] = sum

	out := append(base, ext...)
	return append(out, data...)
}

func archiveOf(entries ...[]byte) io.ReadSeeker {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(e)
	}
	buf.WriteByte(0) // terminator
	return bytes.NewReader(buf.Bytes())
}

func TestReadLevel0Stored(t *testing.T) {
	// "ほげ.bms" in Shift_JIS.
	sjisName := []byte{0x82, 0xD9, 0x82, 0xB0, '.', 'b', 'm', 's'}

	r := NewReader(archiveOf(buildLevel0(sjisName, checkData)))

	hdr, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if hdr.Method != "-lh0-" {
		t.Errorf("Method = %q", hdr.Method)
	}
	if !bytes.Equal(hdr.RawName, sjisName) {
		t.Errorf("RawName = % x, want % x", hdr.RawName, sjisName)
	}
	if hdr.OriginalSize != int64(len(checkData)) {
		t.Errorf("OriginalSize = %d", hdr.OriginalSize)
	}
	if hdr.CRC16 != checkCRC {
		t.Errorf("CRC16 = %04x, want %04x", hdr.CRC16, checkCRC)
	}

	body, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, checkData) {
		t.Errorf("body = %q", got)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after last entry = %v, want io.EOF", err)
	}
}

func TestSkipWithoutReading(t *testing.T) {
	first := buildLevel0([]byte("skip.wav"), bytes.Repeat([]byte{0xAA}, 300))
	second := buildLevel0([]byte("keep.bms"), checkData)

	r := NewReader(archiveOf(first, second))

	if _, err := r.Next(); err != nil {
		t.Fatalf("Next #1: %v", err)
	}
	// No Open: the body must be skipped by seeking.
	hdr, err := r.Next()
	if err != nil {
		t.Fatalf("Next #2: %v", err)
	}
	if string(hdr.RawName) != "keep.bms" {
		t.Errorf("RawName = %q", hdr.RawName)
	}

	body, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(body)
	if !bytes.Equal(got, checkData) {
		t.Errorf("body = %q", got)
	}
}

func TestCRCMismatch(t *testing.T) {
	entry := buildLevel0([]byte("x.bms"), append([]byte(nil), checkData...))
	entry[len(entry)-1] ^= 0xFF // corrupt the last payload byte

	r := NewReader(archiveOf(entry))
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	body, err := r.Open()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(body); !errors.Is(err, ErrChecksum) {
		t.Errorf("err = %v, want ErrChecksum", err)
	}
}

func TestReadLevel1ExtendedFilename(t *testing.T) {
	r := NewReader(archiveOf(buildLevel1([]byte("chart.bme"), checkData)))

	hdr, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(hdr.RawName) != "chart.bme" {
		t.Errorf("RawName = %q", hdr.RawName)
	}
	if hdr.CompressedSize != int64(len(checkData)) {
		t.Errorf("CompressedSize = %d, want %d (ext chain subtracted)", hdr.CompressedSize, len(checkData))
	}

	body, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(body)
	if !bytes.Equal(got, checkData) {
		t.Errorf("body = %q", got)
	}
}

func TestHeaderChecksumRejected(t *testing.T) {
	entry := buildLevel0([]byte("x.bms"), checkData)
	entry[5] ^= 0x01 // corrupt the method field without fixing the sum

	r := NewReader(archiveOf(entry))
	if _, err := r.Next(); err == nil {
		t.Fatal("expected corrupt header error")
	}
}

func TestUnsupportedMethod(t *testing.T) {
	entry := buildLevel0([]byte("x.bms"), checkData)
	// Rewrite method to -lh1- and fix the checksum.
	copy(entry[2:7], "-lh1-")
	var sum byte
	for _, b := range entry[2 : int(entry[0])+2] {
		sum += b
	}
	entry[1] = sum

	r := NewReader(archiveOf(entry))
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open(); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("err = %v, want ErrUnsupportedMethod", err)
	}
}

func TestBackslashSeparatorNormalized(t *testing.T) {
	r := NewReader(archiveOf(buildLevel0([]byte(`dir\chart.bms`), checkData)))
	hdr, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(hdr.RawName) != "dir/chart.bms" {
		t.Errorf("RawName = %q", hdr.RawName)
	}
}

func TestSJISTrailByteNotTreatedAsSeparator(t *testing.T) {
	// 0x83 0x5C is "ソ" in Shift_JIS; the 0x5C trail byte must survive.
	name := []byte{0x83, 0x5C, '.', 'b', 'm', 's'}
	r := NewReader(archiveOf(buildLevel0(name, checkData)))
	hdr, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hdr.RawName, name) {
		t.Errorf("RawName = % x, want % x", hdr.RawName, name)
	}
}

func TestTruncatedHeader(t *testing.T) {
	entry := buildLevel0([]byte("x.bms"), checkData)
	r := NewReader(bytes.NewReader(entry[:10]))
	if _, err := r.Next(); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestEmptyArchive(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0}))
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}
