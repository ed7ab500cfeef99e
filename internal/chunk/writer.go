package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	errNilMessage = errors.New("chunk: nil message")
	errBadCSID    = errors.New("chunk: chunk stream id must be >= 2")
)

// encodeBasicHeader appends the 1-3 byte basic header for fmtVal/csid to dst.
func encodeBasicHeader(dst []byte, fmtVal uint8, csid uint32) ([]byte, error) {
	if csid < 2 {
		return nil, errBadCSID
	}
	switch {
	case csid <= 63:
		dst = append(dst, byte(fmtVal<<6)|byte(csid))
	case csid <= 319:
		dst = append(dst, byte(fmtVal<<6), byte(csid-64))
	case csid <= 65599:
		v := csid - 64
		dst = append(dst, byte(fmtVal<<6)|1, byte(v&0xFF), byte(v>>8))
	default:
		return nil, fmt.Errorf("chunk: chunk stream id %d out of range", csid)
	}
	return dst, nil
}

// Writer fragments outbound Messages into FMT0/1/2/3 chunks, choosing the
// cheapest header form based on what changed since the last message sent on
// the same chunk stream id. Not safe for concurrent use; callers serialize
// writes on a connection through a single writer goroutine or a mutex.
type Writer struct {
	w           io.Writer
	chunkSize   uint32
	lastHeaders map[uint32]*Header
}

// NewWriter creates a Writer with the given initial outbound chunk size.
func NewWriter(w io.Writer, chunkSize uint32) *Writer {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{
		w:           w,
		chunkSize:   chunkSize,
		lastHeaders: make(map[uint32]*Header),
	}
}

// SetChunkSize updates the outbound chunk size used for subsequent messages.
func (w *Writer) SetChunkSize(size uint32) error {
	if size == 0 || size > MaxChunkSize {
		return ErrInvalidChunkSize
	}
	w.chunkSize = size
	return nil
}

// WriteMessage fragments msg into one FMT0/1/2 chunk followed by zero or
// more FMT3 continuation chunks and writes them to the underlying writer.
func (w *Writer) WriteMessage(msg *Message) error {
	if msg == nil {
		return errNilMessage
	}
	if msg.Header.MessageLength == 0 {
		msg.Header.MessageLength = uint32(len(msg.Payload))
	}
	if int(msg.Header.MessageLength) != len(msg.Payload) {
		return fmt.Errorf("chunk: payload length %d does not match declared length %d", len(msg.Payload), msg.Header.MessageLength)
	}

	csid := msg.Header.ChunkStreamID
	prev := w.lastHeaders[csid]

	selectedFmt := uint8(0)
	tsField := msg.Header.Timestamp
	if prev != nil && msg.Header.MessageStreamID == prev.MessageStreamID {
		switch {
		case msg.Header.MessageLength == prev.MessageLength &&
			msg.Header.MessageTypeID == prev.MessageTypeID &&
			msg.Header.MessageStreamID == prev.MessageStreamID:
			selectedFmt = 2
			tsField = msg.Header.Timestamp - prev.Timestamp
		default:
			selectedFmt = 1
			tsField = msg.Header.Timestamp - prev.Timestamp
		}
	}

	first := Header{
		Fmt:             selectedFmt,
		ChunkStreamID:   csid,
		Timestamp:       tsField,
		MessageLength:   msg.Header.MessageLength,
		MessageTypeID:   msg.Header.MessageTypeID,
		MessageStreamID: msg.Header.MessageStreamID,
	}
	extTSValue := tsField
	if selectedFmt == 0 {
		extTSValue = msg.Header.Timestamp
	}
	first.HasExtendedTS = extTSValue >= extendedTimestampMarker

	hdr, err := w.encodeHeader(&first, extTSValue)
	if err != nil {
		return err
	}

	cs := w.chunkSize
	toSend := msg.Payload
	if uint32(len(toSend)) > cs {
		toSend = toSend[:cs]
	}
	if err := writeChunk(w.w, hdr, toSend); err != nil {
		return err
	}
	written := uint32(len(toSend))

	absolute := first
	absolute.Timestamp = msg.Header.Timestamp
	w.lastHeaders[csid] = &absolute

	for written < msg.Header.MessageLength {
		remain := msg.Header.MessageLength - written
		sz := remain
		if sz > cs {
			sz = cs
		}
		hdr3, err := encodeBasicHeader(nil, 3, csid)
		if err != nil {
			return err
		}
		if absolute.HasExtendedTS {
			var ext [4]byte
			binary.BigEndian.PutUint32(ext[:], extTSValue)
			hdr3 = append(hdr3, ext[:]...)
		}
		end := written + sz
		if err := writeChunk(w.w, hdr3, msg.Payload[written:end]); err != nil {
			return err
		}
		written = end
	}
	return nil
}

// encodeHeader serializes the basic header plus the FMT-dependent message
// header fields, appending the extended timestamp if the field overflowed.
func (w *Writer) encodeHeader(h *Header, tsField uint32) ([]byte, error) {
	buf, err := encodeBasicHeader(make([]byte, 0, 16), h.Fmt, h.ChunkStreamID)
	if err != nil {
		return nil, err
	}

	emitted := tsField
	if h.HasExtendedTS {
		emitted = extendedTimestampMarker
	}

	switch h.Fmt {
	case 0:
		var mh [11]byte
		putUint24(mh[0:3], emitted)
		putUint24(mh[3:6], h.MessageLength)
		mh[6] = h.MessageTypeID
		binary.LittleEndian.PutUint32(mh[7:11], h.MessageStreamID)
		buf = append(buf, mh[:]...)
	case 1:
		var mh [7]byte
		putUint24(mh[0:3], emitted)
		putUint24(mh[3:6], h.MessageLength)
		mh[6] = h.MessageTypeID
		buf = append(buf, mh[:]...)
	case 2:
		var mh [3]byte
		putUint24(mh[:], emitted)
		buf = append(buf, mh[:]...)
	}

	if h.HasExtendedTS {
		var ext [4]byte
		binary.BigEndian.PutUint32(ext[:], tsField)
		buf = append(buf, ext[:]...)
	}
	return buf, nil
}

func writeChunk(w io.Writer, header, payload []byte) error {
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}
