package binlog

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

var ErrBadMagic = errors.New("not a frame capture")

type Record struct {
	Time    time.Time
	Flag    uint16
	Source  uint16
	Payload []byte
}

type Reader struct {
	r      io.Reader
	closer io.Closer
	rec    []byte
}

// Open reads the global header of the capture at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func NewReader(r io.Reader) (*Reader, error) {
	hdr := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, errors.Wrap(err, "pcap header")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != PcapMagic {
		return nil, ErrBadMagic
	}
	return &Reader{r: r, rec: make([]byte, pcapRecordLen+phdr2Len)}, nil
}

// Next returns the following record, or io.EOF at the end of the capture.
// A truncated trailing record is treated as the end.
func (r *Reader) Next() (Record, error) {
	for {
		if _, err := io.ReadFull(r.r, r.rec[:pcapRecordLen]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		tsSec := binary.LittleEndian.Uint32(r.rec[0:4])
		tsUsec := binary.LittleEndian.Uint32(r.rec[4:8])
		inclLen := binary.LittleEndian.Uint32(r.rec[8:12])
		if inclLen < phdr2Len {
			// malformed record, skip the stated length
			if _, err := io.CopyN(io.Discard, r.r, int64(inclLen)); err != nil {
				return Record{}, io.EOF
			}
			continue
		}
		if inclLen > snapLen+phdr2Len {
			return Record{}, errors.Errorf("record length %d exceeds snap length", inclLen)
		}

		phdr := r.rec[pcapRecordLen:]
		if _, err := io.ReadFull(r.r, phdr); err != nil {
			return Record{}, io.EOF
		}
		payload := make([]byte, int(inclLen)-phdr2Len)
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return Record{}, io.EOF
		}
		return Record{
			Time:    time.Unix(int64(tsSec), int64(tsUsec)*1000),
			Flag:    binary.LittleEndian.Uint16(phdr[0:2]),
			Source:  binary.LittleEndian.Uint16(phdr[2:4]),
			Payload: payload,
		}, nil
	}
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
