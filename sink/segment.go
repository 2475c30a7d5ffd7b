package sink

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/coffersTech/scopelog"
)

// Segment file layout:
//
//	[8]  magic "SCLOGSEG"
//	[1]  version
//	[1]  sealed flag
//	then frames: [4: payload len LE][payload]
//
// A payload is a zstd-compressed block of JSONL rows, additionally sealed
// with ChaCha20-Poly1305 (nonce prepended) when a key is configured.
var segMagic = []byte("SCLOGSEG")

const segVersion = 1

// Segment buffers rows in memory and flushes them as compressed frames to a
// file in dir, rotating to a fresh file when the current one grows past the
// size limit.
type Segment struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	written int64
	seq     int

	rows    int
	maxRows int
	maxFile int64

	buf     bytes.Buffer
	arena   fastjson.Arena
	scratch []byte

	encoder *zstd.Encoder
	sealer  cipher.AEAD
}

// SegmentOption configures a Segment at construction.
type SegmentOption func(*Segment) error

// MaxFileBytes sets the rotation threshold (default 64 MiB).
func MaxFileBytes(n int64) SegmentOption {
	return func(s *Segment) error {
		if n <= 0 {
			return fmt.Errorf("sink: max file bytes must be positive")
		}
		s.maxFile = n
		return nil
	}
}

// MaxBufferedRows sets how many rows accumulate before a frame is cut
// (default 256).
func MaxBufferedRows(n int) SegmentOption {
	return func(s *Segment) error {
		if n <= 0 {
			return fmt.Errorf("sink: max buffered rows must be positive")
		}
		s.maxRows = n
		return nil
	}
}

// Sealed encrypts every frame with the 32-byte key.
func Sealed(key []byte) SegmentOption {
	return func(s *Segment) error {
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return fmt.Errorf("sink: bad segment key: %w", err)
		}
		s.sealer = aead
		return nil
	}
}

// NewSegment creates the directory if needed and opens the first file.
func NewSegment(dir string, opts ...SegmentOption) (*Segment, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	s := &Segment{
		dir:     dir,
		maxRows: 256,
		maxFile: 64 << 20,
		encoder: enc,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := s.rotateLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Segment) Handle(_ context.Context, r scopelog.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch = appendRecordJSON(&s.arena, s.scratch[:0], r)
	s.arena.Reset()
	s.buf.Write(s.scratch)
	s.buf.WriteByte('\n')
	s.rows++
	if s.rows >= s.maxRows {
		return true, s.flushLocked()
	}
	return true, nil
}

// Flush cuts a frame from whatever is buffered.
func (s *Segment) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Segment) flushLocked() error {
	if s.buf.Len() == 0 {
		return nil
	}
	payload := s.encoder.EncodeAll(s.buf.Bytes(), make([]byte, 0, s.buf.Len()/2))
	if s.sealer != nil {
		nonce := make([]byte, s.sealer.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return err
		}
		payload = s.sealer.Seal(nonce, nonce, payload, nil)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := s.file.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := s.file.Write(payload); err != nil {
		return err
	}
	s.written += int64(4 + len(payload))
	s.buf.Reset()
	s.rows = 0
	if s.written >= s.maxFile {
		return s.rotateLocked()
	}
	return nil
}

func (s *Segment) rotateLocked() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
	}
	s.seq++
	name := fmt.Sprintf("seg_%d_%04d.slz", time.Now().UnixNano(), s.seq)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	header := append(append([]byte{}, segMagic...), segVersion, sealedFlag(s.sealer != nil))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.written = int64(len(header))
	return nil
}

func sealedFlag(sealed bool) byte {
	if sealed {
		return 1
	}
	return 0
}

// Close flushes the remaining rows and closes the current file.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(); err != nil {
		return err
	}
	return s.file.Close()
}
