package binlog

import (
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 250000*1000)
	require.NoError(t, w.WriteAt(t0, FlagFrame, 1, []byte("[0;1;0.4;0.1;0.2;9.9;72;36.6;-58;-61;-55]")))
	require.NoError(t, w.WriteAt(t0.Add(500*time.Millisecond), FlagStatus, 0, []byte("note")))
	assert.Equal(t, pcapGlobalLen+2*(pcapRecordLen+phdr2Len)+41+4, buf.Len())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	recs, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Time.Equal(t0))
	assert.Equal(t, FlagFrame, recs[0].Flag)
	assert.Equal(t, uint16(1), recs[0].Source)
	assert.Equal(t, "note", string(recs[1].Payload))
	assert.Equal(t, 500*time.Millisecond, recs[1].Time.Sub(recs[0].Time))
}

func TestReaderRejectsForeignFile(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, pcapGlobalLen)))
	assert.ErrorIs(t, err, ErrBadMagic)
	_, err = NewReader(bytes.NewReader([]byte{1, 2}))
	assert.Error(t, err)
}

func TestReaderStopsAtTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt(time.Unix(1, 0), FlagFrame, 0, []byte("complete")))
	require.NoError(t, w.WriteAt(time.Unix(2, 0), FlagFrame, 0, []byte("truncated")))
	data := buf.Bytes()[:buf.Len()-3]

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "complete", string(rec.Payload))
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderSkipsShortRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	bad := make([]byte, pcapRecordLen+3)
	binary.LittleEndian.PutUint32(bad[8:], 3)
	buf.Write(bad)
	require.NoError(t, w.WriteAt(time.Unix(5, 0), FlagFrame, 0, []byte("ok")))

	r, err := NewReader(&buf)
	require.NoError(t, err)
	recs, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ok", string(recs[0].Payload))
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.pcap")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(FlagFrame, 2, []byte("x")))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), rec.Source)
}
