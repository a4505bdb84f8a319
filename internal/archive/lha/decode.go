package lha

import (
	"bufio"
	"fmt"
	"io"
)

// Static-Huffman decoder for the -lh4- through -lh7- methods.
//
// The stream is a sequence of blocks. Each block carries three Huffman
// code tables (a temporary table used to encode the literal/length
// table, the literal/length table itself, and the match-position
// table), followed by blockSize literal-or-match codes. Matches copy
// from a sliding window whose size depends on the method.

const (
	threshold = 3   // shortest match
	maxMatch  = 256 // longest match
	numChars  = 255 + maxMatch + 2 - threshold // literal/length alphabet size (510)
	numTemp   = 19                             // temp table alphabet size
	tempBits  = 5                              // bits for temp table lengths
	charBits  = 9                              // bits for literal table count
	maxCode   = 16                             // longest Huffman code
)

type methodParams struct {
	dictBits int // window = 1 << dictBits
	numPos   int // match-position alphabet size
	posBits  int // bits for position table count
}

var methods = map[string]methodParams{
	"-lh4-": {dictBits: 12, numPos: 14, posBits: 4},
	"-lh5-": {dictBits: 13, numPos: 14, posBits: 4},
	"-lh6-": {dictBits: 15, numPos: 16, posBits: 5},
	"-lh7-": {dictBits: 16, numPos: 17, posBits: 5},
}

type decoder struct {
	br *bitReader

	window []byte
	wpos   int
	mask   int

	numPos  int
	posBits int

	blockSize int
	charTable huffTable
	posTable  huffTable

	remaining int64

	// in-flight match copy
	matchLen int
	matchPos int
}

func newDecoder(method string, src *bufio.Reader, originalSize int64) (*decoder, error) {
	params, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	size := 1 << params.dictBits
	return &decoder{
		br:        newBitReader(src),
		window:    make([]byte, size),
		mask:      size - 1,
		numPos:    params.numPos,
		posBits:   params.posBits,
		remaining: originalSize,
	}, nil
}

func (d *decoder) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && d.remaining > 0 {
		if d.matchLen > 0 {
			b := d.window[d.matchPos]
			d.matchPos = (d.matchPos + 1) & d.mask
			d.matchLen--
			d.emit(b, p, &n)
			continue
		}

		c, err := d.decodeChar()
		if err != nil {
			return n, err
		}
		if c <= 255 {
			d.emit(byte(c), p, &n)
			continue
		}

		d.matchLen = c - 256 + threshold
		pos, err := d.decodePos()
		if err != nil {
			return n, err
		}
		d.matchPos = (d.wpos - pos - 1) & d.mask
	}

	if n == 0 && d.remaining == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (d *decoder) emit(b byte, p []byte, n *int) {
	d.window[d.wpos] = b
	d.wpos = (d.wpos + 1) & d.mask
	p[*n] = b
	*n++
	d.remaining--
}

// decodeChar returns the next literal (0..255) or length code (>255),
// loading fresh tables at block boundaries.
func (d *decoder) decodeChar() (int, error) {
	if d.blockSize == 0 {
		size, err := d.br.bits(16)
		if err != nil {
			return 0, err
		}
		if size == 0 {
			return 0, fmt.Errorf("lha: empty block")
		}
		d.blockSize = int(size)

		if err := d.readTempTable(); err != nil {
			return 0, err
		}
		if err := d.readCharTable(); err != nil {
			return 0, err
		}
		if err := d.readPosTable(); err != nil {
			return 0, err
		}
	}
	d.blockSize--
	return d.charTable.decode(d.br)
}

// decodePos returns the match distance.
func (d *decoder) decodePos() (int, error) {
	p, err := d.posTable.decode(d.br)
	if err != nil {
		return 0, err
	}
	if p == 0 {
		return 0, nil
	}
	extra, err := d.br.bits(uint(p - 1))
	if err != nil {
		return 0, err
	}
	return 1<<(p-1) + int(extra), nil
}

// readTempTable reads the temporary table used to encode the
// literal/length code lengths. It lands in posTable, which is
// overwritten by the real position table afterwards.
func (d *decoder) readTempTable() error {
	return d.readLengths(&d.posTable, numTemp, tempBits, 3)
}

// readPosTable reads the match-position code table.
func (d *decoder) readPosTable() error {
	return d.readLengths(&d.posTable, d.numPos, uint(d.posBits), -1)
}

// readLengths reads a small code-length table: count, then 3-bit
// lengths with a unary extension for lengths above 6. At index
// `special` a 2-bit zero-run count is inserted (used only by the temp
// table).
func (d *decoder) readLengths(table *huffTable, alphabet int, countBits uint, special int) error {
	count, err := d.br.bits(countBits)
	if err != nil {
		return err
	}
	if count == 0 {
		// Degenerate table: a single code, zero bits long.
		sym, err := d.br.bits(countBits)
		if err != nil {
			return err
		}
		table.setSingle(int(sym))
		return nil
	}
	if int(count) > alphabet {
		return fmt.Errorf("lha: code length count %d exceeds alphabet %d", count, alphabet)
	}

	lengths := make([]byte, alphabet)
	i := 0
	for i < int(count) {
		c, err := d.br.peek(3)
		if err != nil {
			return err
		}
		if c < 7 {
			d.br.consume(3)
		} else {
			// 3 bits of '111', then unary: one extra bit per length
			// step, terminated by a zero bit.
			window, err := d.br.peek(16)
			if err != nil {
				return err
			}
			mask := uint32(1) << (16 - 4)
			for mask&window != 0 && c < maxCode {
				mask >>= 1
				c++
			}
			d.br.consume(uint(c) - 3)
		}
		lengths[i] = byte(c)
		i++

		if i == special {
			skip, err := d.br.bits(2)
			if err != nil {
				return err
			}
			for j := 0; j < int(skip); j++ {
				lengths[i] = 0
				i++
			}
		}
	}

	return table.build(lengths)
}

// readCharTable reads the literal/length table, whose code lengths are
// themselves Huffman-coded with the temp table plus zero-run codes.
func (d *decoder) readCharTable() error {
	count, err := d.br.bits(charBits)
	if err != nil {
		return err
	}
	if count == 0 {
		sym, err := d.br.bits(charBits)
		if err != nil {
			return err
		}
		d.charTable.setSingle(int(sym))
		return nil
	}
	if int(count) > numChars {
		return fmt.Errorf("lha: literal count %d exceeds alphabet", count)
	}

	lengths := make([]byte, numChars)
	i := 0
	for i < int(count) {
		c, err := d.posTable.decode(d.br)
		if err != nil {
			return err
		}
		switch {
		case c == 0:
			lengths[i] = 0
			i++
		case c == 1:
			run, err := d.br.bits(4)
			if err != nil {
				return err
			}
			for j := 0; j < int(run)+3 && i < len(lengths); j++ {
				lengths[i] = 0
				i++
			}
		case c == 2:
			run, err := d.br.bits(9)
			if err != nil {
				return err
			}
			for j := 0; j < int(run)+20 && i < len(lengths); j++ {
				lengths[i] = 0
				i++
			}
		default:
			lengths[i] = byte(c - 2)
			i++
		}
	}

	return d.charTable.build(lengths)
}

// huffTable decodes canonical Huffman codes bit by bit. Codes are
// assigned in symbol order within each length, MSB first.
type huffTable struct {
	counts  [maxCode + 1]uint16
	symbols []uint16
	single  int // symbol for a zero-bit degenerate table, -1 otherwise
}

func (t *huffTable) setSingle(sym int) {
	t.counts = [maxCode + 1]uint16{}
	t.symbols = nil
	t.single = sym
}

func (t *huffTable) build(lengths []byte) error {
	t.single = -1
	t.counts = [maxCode + 1]uint16{}
	for _, l := range lengths {
		if l > maxCode {
			return fmt.Errorf("lha: code length %d out of range", l)
		}
		if l > 0 {
			t.counts[l]++
		}
	}

	// Reject over-subscribed code sets.
	left := 1
	for l := 1; l <= maxCode; l++ {
		left <<= 1
		left -= int(t.counts[l])
		if left < 0 {
			return fmt.Errorf("lha: over-subscribed code lengths")
		}
	}

	offsets := make([]int, maxCode+2)
	for l := 1; l <= maxCode; l++ {
		offsets[l+1] = offsets[l] + int(t.counts[l])
	}

	t.symbols = make([]uint16, offsets[maxCode+1])
	for sym, l := range lengths {
		if l > 0 {
			t.symbols[offsets[l]] = uint16(sym)
			offsets[l]++
		}
	}

	return nil
}

func (t *huffTable) decode(br *bitReader) (int, error) {
	if t.single >= 0 {
		return t.single, nil
	}

	code, first, index := 0, 0, 0
	for l := 1; l <= maxCode; l++ {
		bit, err := br.bits(1)
		if err != nil {
			return 0, err
		}
		code = code<<1 | int(bit)
		count := int(t.counts[l])
		if code-first < count {
			return int(t.symbols[index+code-first]), nil
		}
		index += count
		first = (first + count) << 1
	}

	return 0, fmt.Errorf("lha: invalid huffman code")
}

// bitReader delivers MSB-first bits. Reads past the end of the source
// yield zero bits, matching how LHA encoders pad the final block.
type bitReader struct {
	src *bufio.Reader
	buf uint64 // left-aligned: top bit is next
	n   uint   // valid bits in buf
	eof bool
}

func newBitReader(src *bufio.Reader) *bitReader {
	return &bitReader{src: src}
}

func (b *bitReader) fill() {
	for b.n <= 56 && !b.eof {
		c, err := b.src.ReadByte()
		if err != nil {
			b.eof = true
			return
		}
		b.buf |= uint64(c) << (56 - b.n)
		b.n += 8
	}
}

// peek returns the next k bits (k <= 32) without consuming them.
func (b *bitReader) peek(k uint) (uint32, error) {
	if k == 0 {
		return 0, nil
	}
	b.fill()
	return uint32(b.buf >> (64 - k)), nil
}

// consume discards k bits. Consuming past the end of the source is
// allowed; the missing bits read as zero.
func (b *bitReader) consume(k uint) {
	b.buf <<= k
	if b.n >= k {
		b.n -= k
	} else {
		b.n = 0
	}
}

// bits reads and consumes k bits (k <= 32).
func (b *bitReader) bits(k uint) (uint32, error) {
	v, err := b.peek(k)
	if err != nil {
		return 0, err
	}
	b.consume(k)
	return v, nil
}
