package accumulator

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/hupe1980/nexus/model"
	"github.com/pierrec/lz4/v4"
)

// Row value layout:
//
//	[0:8]   score, float64 bits, little endian
//	[8]     status (0 active, 1 archived)
//	[9:17]  last seen, unix nanoseconds
//	[17:21] row sequence
//	[21:25] payload length uncompressed
//	[25:29] payload length compressed, 0 when stored raw
//	[29:]   entity JSON, lz4 block
//
// The header is authoritative for score, status and last seen; decay only
// rewrites the header.
const (
	headerSize = 29
	offStatus  = 8
	offSeen    = 9
	offSeq     = 17
	offRawLen  = 21
	offCompLen = 25
)

var errCorruptRow = errors.New("accumulator: corrupt row")

type header struct {
	score    float64
	status   model.Status
	lastSeen time.Time
	seq      uint32
}

func encodeRow(h header, payload []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(payload))
	buf := make([]byte, headerSize+bound)
	n, err := lz4.CompressBlock(payload, buf[headerSize:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(payload) {
		// Incompressible.
		buf = append(buf[:headerSize], payload...)
		n = 0
	} else {
		buf = buf[:headerSize+n]
	}
	putHeader(buf, h)
	binary.LittleEndian.PutUint32(buf[offRawLen:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[offCompLen:], uint32(n))
	return buf, nil
}

func putHeader(buf []byte, h header) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(h.score))
	buf[offStatus] = 0
	if h.status == model.StatusArchived {
		buf[offStatus] = 1
	}
	var seen int64
	if !h.lastSeen.IsZero() {
		seen = h.lastSeen.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[offSeen:], uint64(seen))
	binary.LittleEndian.PutUint32(buf[offSeq:], h.seq)
}

func decodeHeader(v []byte) (header, error) {
	if len(v) < headerSize {
		return header{}, errCorruptRow
	}
	h := header{
		score:  math.Float64frombits(binary.LittleEndian.Uint64(v)),
		status: model.StatusActive,
		seq:    binary.LittleEndian.Uint32(v[offSeq:]),
	}
	if v[offStatus] == 1 {
		h.status = model.StatusArchived
	}
	if seen := int64(binary.LittleEndian.Uint64(v[offSeen:])); seen != 0 {
		h.lastSeen = time.Unix(0, seen).UTC()
	}
	return h, nil
}

// decodePayload returns a copy of the entity JSON held in v.
func decodePayload(v []byte) ([]byte, error) {
	if len(v) < headerSize {
		return nil, errCorruptRow
	}
	rawLen := binary.LittleEndian.Uint32(v[offRawLen:])
	compLen := binary.LittleEndian.Uint32(v[offCompLen:])
	body := v[headerSize:]

	if compLen == 0 {
		if uint32(len(body)) != rawLen {
			return nil, errCorruptRow
		}
		out := make([]byte, rawLen)
		copy(out, body)
		return out, nil
	}
	if uint32(len(body)) != compLen {
		return nil, errCorruptRow
	}
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, err
	}
	if uint32(n) != rawLen {
		return nil, errCorruptRow
	}
	return out, nil
}

// scoreKey orders rows by score descending, then id ascending, under
// bbolt's bytewise key order. Scores are clamped non-negative, so their
// bit patterns sort like the values.
func scoreKey(score float64, id string) []byte {
	k := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(k, ^math.Float64bits(model.ClampScore(score)))
	copy(k[8:], id)
	return k
}
