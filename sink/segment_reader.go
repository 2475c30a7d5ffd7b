package sink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
)

// ReadSegment reads every JSONL row back out of a segment file. key is
// required for sealed segments and ignored otherwise.
func ReadSegment(path string, key []byte) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, len(segMagic)+2)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("sink: short segment header: %w", err)
	}
	if !bytes.Equal(header[:len(segMagic)], segMagic) {
		return nil, fmt.Errorf("sink: %s is not a segment file", path)
	}
	if v := header[len(segMagic)]; v != segVersion {
		return nil, fmt.Errorf("sink: unsupported segment version %d", v)
	}
	sealed := header[len(segMagic)+1] == 1
	if sealed && len(key) == 0 {
		return nil, fmt.Errorf("sink: segment %s is sealed and no key was given", path)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var rows [][]byte
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if err == io.EOF {
				return rows, nil
			}
			return rows, fmt.Errorf("sink: segment frame length: %w", err)
		}
		payload := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(f, payload); err != nil {
			return rows, fmt.Errorf("sink: segment frame body: %w", err)
		}
		if sealed {
			aead, err := chacha20poly1305.New(key)
			if err != nil {
				return rows, err
			}
			ns := aead.NonceSize()
			if len(payload) < ns {
				return rows, fmt.Errorf("sink: sealed frame too short")
			}
			payload, err = aead.Open(nil, payload[:ns], payload[ns:], nil)
			if err != nil {
				return rows, fmt.Errorf("sink: unseal frame: %w", err)
			}
		}
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return rows, fmt.Errorf("sink: decompress frame: %w", err)
		}
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			if len(line) > 0 {
				rows = append(rows, line)
			}
		}
	}
}
