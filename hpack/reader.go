package hpack

import (
	"github.com/pkg/errors"
)

// ErrProtocol marks a malformed or out-of-spec header block. A peer
// that sends one has broken the connection-level contract, so callers
// should kill the whole connection, not just the stream.
var ErrProtocol = errors.New("hpack protocol error")

// Reader decompresses header blocks, one ReadHeaders call per block.
// Decoded fields accumulate until collected with GetAndResetHeaderList.
// Not safe for concurrent use; each connection owns one Reader.
type Reader struct {
	headerList []HeaderField

	// headerTableSizeSetting is our SETTINGS_HEADER_TABLE_SIZE. A
	// size-update instruction may pick any value up to it.
	headerTableSizeSetting   uint32
	maxDynamicTableByteCount uint32

	// dynamicTable is back-populated: the newest entry sits at
	// nextHeaderIndex+1 and the oldest at the last slot.
	dynamicTable          []HeaderField
	nextHeaderIndex       int
	headerCount           int
	dynamicTableByteCount uint32

	buf []byte
	pos int
}

func NewReader(headerTableSizeSetting uint32) *Reader {
	return &Reader{
		headerTableSizeSetting:   headerTableSizeSetting,
		maxDynamicTableByteCount: headerTableSizeSetting,
		dynamicTable:             make([]HeaderField, 8),
		nextHeaderIndex:          7,
	}
}

// HeaderTableSizeSetting applies a new SETTINGS_HEADER_TABLE_SIZE.
func (r *Reader) HeaderTableSizeSetting(size uint32) {
	r.headerTableSizeSetting = size
	r.maxDynamicTableByteCount = size
	r.adjustDynamicTableByteCount()
}

// GetAndResetHeaderList hands over the decoded fields and clears the
// accumulation list for the next block.
func (r *Reader) GetAndResetHeaderList() []HeaderField {
	result := r.headerList
	r.headerList = nil
	return result
}

// ReadHeaders decodes one complete header block.
// Reference: https://datatracker.ietf.org/doc/html/rfc7541#section-6
func (r *Reader) ReadHeaders(block []byte) error {
	r.buf, r.pos = block, 0

	for r.pos < len(r.buf) {
		b, err := r.readByte()
		if err != nil {
			return err
		}

		switch {
		case b&0x80 != 0:
			// 1xxxxxxx: indexed header field.
			index, err := r.readInt(b, prefix7Bits)
			if err != nil {
				return err
			}
			if index == 0 {
				return errors.Wrap(ErrProtocol, "indexed header with index 0")
			}
			if err := r.readIndexedHeader(int(index - 1)); err != nil {
				return err
			}

		case b == 0x40:
			// 01000000: literal with incremental indexing, new name.
			if err := r.readLiteralIncremental(-1); err != nil {
				return err
			}

		case b&0x40 != 0:
			// 01xxxxxx: literal with incremental indexing, indexed name.
			index, err := r.readInt(b, prefix6Bits)
			if err != nil {
				return err
			}
			if err := r.readLiteralIncremental(int(index - 1)); err != nil {
				return err
			}

		case b&0x20 != 0:
			// 001xxxxx: dynamic table size update.
			size, err := r.readInt(b, prefix5Bits)
			if err != nil {
				return err
			}
			if size > r.headerTableSizeSetting {
				return errors.Wrapf(ErrProtocol,
					"invalid dynamic table size update: %d", size)
			}
			r.maxDynamicTableByteCount = size
			r.adjustDynamicTableByteCount()

		case b == 0x10 || b == 0:
			// Literal without (or never-) indexing, new name.
			if err := r.readLiteralNotIndexed(-1); err != nil {
				return err
			}

		default:
			// 000xxxxx: literal without (or never-) indexing, indexed name.
			index, err := r.readInt(b, prefix4Bits)
			if err != nil {
				return err
			}
			if err := r.readLiteralNotIndexed(int(index - 1)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Reader) readIndexedHeader(index int) error {
	if index < len(staticTable) {
		r.headerList = append(r.headerList, staticTable[index])
		return nil
	}

	entry, err := r.dynamicEntry(index - len(staticTable))
	if err != nil {
		return err
	}
	r.headerList = append(r.headerList, entry)
	return nil
}

func (r *Reader) readLiteralIncremental(nameIndex int) error {
	name, err := r.readName(nameIndex)
	if err != nil {
		return err
	}
	value, err := r.readByteString()
	if err != nil {
		return errors.Wrap(err, "reading value")
	}

	entry := HeaderField{Name: name, Value: string(value)}
	r.headerList = append(r.headerList, entry)
	r.insertIntoDynamicTable(entry)
	return nil
}

func (r *Reader) readLiteralNotIndexed(nameIndex int) error {
	name, err := r.readName(nameIndex)
	if err != nil {
		return err
	}
	value, err := r.readByteString()
	if err != nil {
		return errors.Wrap(err, "reading value")
	}

	r.headerList = append(r.headerList, HeaderField{Name: name, Value: string(value)})
	return nil
}

func (r *Reader) readName(nameIndex int) (string, error) {
	if nameIndex >= 0 {
		if nameIndex < len(staticTable) {
			return staticTable[nameIndex].Name, nil
		}
		entry, err := r.dynamicEntry(nameIndex - len(staticTable))
		if err != nil {
			return "", err
		}
		return entry.Name, nil
	}

	raw, err := r.readByteString()
	if err != nil {
		return "", errors.Wrap(err, "reading name")
	}
	return checkLowercase(raw)
}

func (r *Reader) dynamicEntry(dynamicIndex int) (HeaderField, error) {
	physical := r.nextHeaderIndex + 1 + dynamicIndex
	if dynamicIndex < 0 || physical >= len(r.dynamicTable) {
		return HeaderField{}, errors.Wrapf(ErrProtocol,
			"header index too large: %d", dynamicIndex+len(staticTable)+1)
	}
	return r.dynamicTable[physical], nil
}

func (r *Reader) insertIntoDynamicTable(entry HeaderField) {
	delta := entry.Size()

	// An entry larger than the whole table empties it and is dropped.
	if delta > r.maxDynamicTableByteCount {
		r.clearDynamicTable()
		return
	}

	r.evictToRecoverBytes(int64(r.dynamicTableByteCount) + int64(delta) -
		int64(r.maxDynamicTableByteCount))

	if r.headerCount+1 > len(r.dynamicTable) {
		// Double, packing existing entries into the upper half.
		doubled := make([]HeaderField, len(r.dynamicTable)*2)
		copy(doubled[len(r.dynamicTable):], r.dynamicTable)
		r.nextHeaderIndex = len(r.dynamicTable) - 1
		r.dynamicTable = doubled
	}

	r.dynamicTable[r.nextHeaderIndex] = entry
	r.nextHeaderIndex--
	r.headerCount++
	r.dynamicTableByteCount += delta
}

func (r *Reader) evictToRecoverBytes(bytesToRecover int64) {
	if bytesToRecover <= 0 {
		return
	}

	entriesToEvict := 0
	for j := len(r.dynamicTable) - 1; j > r.nextHeaderIndex && bytesToRecover > 0; j-- {
		bytesToRecover -= int64(r.dynamicTable[j].Size())
		r.dynamicTableByteCount -= r.dynamicTable[j].Size()
		r.headerCount--
		entriesToEvict++
	}

	// Shift survivors toward the end, vacating the evicted slots.
	copy(r.dynamicTable[r.nextHeaderIndex+1+entriesToEvict:],
		r.dynamicTable[r.nextHeaderIndex+1:r.nextHeaderIndex+1+r.headerCount])
	for j := r.nextHeaderIndex + 1; j <= r.nextHeaderIndex+entriesToEvict; j++ {
		r.dynamicTable[j] = HeaderField{}
	}
	r.nextHeaderIndex += entriesToEvict
}

func (r *Reader) clearDynamicTable() {
	for i := range r.dynamicTable {
		r.dynamicTable[i] = HeaderField{}
	}
	r.nextHeaderIndex = len(r.dynamicTable) - 1
	r.headerCount = 0
	r.dynamicTableByteCount = 0
}

func (r *Reader) adjustDynamicTableByteCount() {
	if r.dynamicTableByteCount > r.maxDynamicTableByteCount {
		if r.maxDynamicTableByteCount == 0 {
			r.clearDynamicTable()
			return
		}
		r.evictToRecoverBytes(int64(r.dynamicTableByteCount) -
			int64(r.maxDynamicTableByteCount))
	}
}

func (r *Reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.Wrap(ErrProtocol, "unexpected end of header block")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// readInt decodes a prefixed integer whose first byte was already
// consumed.
// Reference: https://datatracker.ietf.org/doc/html/rfc7541#section-5.1
func (r *Reader) readInt(firstByte byte, prefixMask byte) (uint32, error) {
	prefix := uint32(firstByte & prefixMask)
	if prefix < uint32(prefixMask) {
		return prefix, nil
	}

	result := uint64(prefixMask)
	shift := uint(0)
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}

		result += uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}

		shift += 7
		if shift > 28 {
			return 0, errors.Wrap(ErrProtocol, "integer overflow")
		}
	}

	if result > 0xffffffff {
		return 0, errors.Wrap(ErrProtocol, "integer overflow")
	}
	return uint32(result), nil
}

func (r *Reader) readByteString() ([]byte, error) {
	firstByte, err := r.readByte()
	if err != nil {
		return nil, err
	}

	huffman := firstByte&0x80 != 0
	length, err := r.readInt(firstByte, prefix7Bits)
	if err != nil {
		return nil, err
	}

	if uint32(len(r.buf)-r.pos) < length {
		return nil, errors.Wrap(ErrProtocol, "string literal longer than block")
	}
	raw := r.buf[r.pos : r.pos+int(length)]
	r.pos += int(length)

	if huffman {
		decoded, err := huffmanDecode(raw)
		if err != nil {
			return nil, errors.Wrap(ErrProtocol, err.Error())
		}
		return decoded, nil
	}

	out := make([]byte, length)
	copy(out, raw)
	return out, nil
}

// checkLowercase rejects names a conforming peer must never send.
// Reference: https://datatracker.ietf.org/doc/html/rfc7540#section-8.1.2
func checkLowercase(name []byte) (string, error) {
	for _, c := range name {
		if 'A' <= c && c <= 'Z' {
			return "", errors.Wrapf(ErrProtocol,
				"mixed case name: %s", string(name))
		}
	}
	return string(name), nil
}
