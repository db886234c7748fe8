package binlog

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"
)

// Capture files use the pcap container: a 24-byte global header followed
// by records of a 16-byte pcap header, an 8-byte phdr2 and the payload.
const (
	PcapMagic = 0xA1B2C3D4
	// LinkType marks the payloads as sensor frames rather than packets.
	LinkType = 147

	pcapGlobalLen = 24
	pcapRecordLen = 16
	phdr2Len      = 8
	snapLen       = 65535
)

// Record flags.
const (
	FlagFrame  uint16 = 0x01 // raw firmware frame
	FlagStatus uint16 = 0x10 // free-form annotation
)

type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
	now func() time.Time
}

// Create truncates path and writes the global header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the global header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := &Writer{w: w, buf: make([]byte, pcapRecordLen+phdr2Len), now: time.Now}
	if err := bw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return bw, nil
}

func (bw *Writer) writeGlobalHeader() error {
	// Magic(4), Major(2), Minor(2), Zone(4), Sig(4), Snap(4), Link(4)
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], snapLen)
	binary.LittleEndian.PutUint32(b[20:], LinkType)
	_, err := bw.w.Write(b)
	return err
}

// WriteFrame appends data stamped with the current time.
func (bw *Writer) WriteFrame(flag, source uint16, data []byte) error {
	return bw.WriteAt(bw.now(), flag, source, data)
}

// WriteAt appends data with an explicit timestamp.
func (bw *Writer) WriteAt(ts time.Time, flag, source uint16, data []byte) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	total := uint32(len(data) + phdr2Len)
	// ts_sec(4), ts_usec(4), incl_len(4), orig_len(4)
	binary.LittleEndian.PutUint32(bw.buf[0:], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(bw.buf[4:], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(bw.buf[8:], total)
	binary.LittleEndian.PutUint32(bw.buf[12:], total)
	// flag(2), source(2), reserved(4)
	binary.LittleEndian.PutUint16(bw.buf[16:], flag)
	binary.LittleEndian.PutUint16(bw.buf[18:], source)
	binary.LittleEndian.PutUint32(bw.buf[20:], 0)

	if _, err := bw.w.Write(bw.buf); err != nil {
		return err
	}
	_, err := bw.w.Write(data)
	return err
}

func (bw *Writer) Close() error {
	if c, ok := bw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
