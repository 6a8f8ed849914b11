package creator

import (
	"context"
	"crypto/sha1"
	"hash"
	"io"
	"os"
	"sync"
)

// sha1Pool reuses hashers across builds.
var sha1Pool = sync.Pool{
	New: func() any {
		return sha1.New()
	},
}

// payloadReader streams the concatenated file contents. With padded set it
// injects zero bytes after every file except the last, aligning each file to
// a piece boundary (the hybrid layout's pad files). Files are opened lazily,
// one at a time.
type payloadReader struct {
	files     []fileEntry
	pieceSize int64
	padded    bool

	idx     int
	cur     *os.File
	padLeft int64
}

func (r *payloadReader) Read(p []byte) (int, error) {
	for {
		if r.padLeft > 0 {
			n := len(p)
			if int64(n) > r.padLeft {
				n = int(r.padLeft)
			}
			for i := 0; i < n; i++ {
				p[i] = 0
			}
			r.padLeft -= int64(n)
			return n, nil
		}
		if r.cur == nil {
			if r.idx >= len(r.files) {
				return 0, io.EOF
			}
			f, err := os.Open(r.files[r.idx].absPath)
			if err != nil {
				return 0, err
			}
			r.cur = f
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			size := r.files[r.idx].size
			r.idx++
			if r.padded && r.idx < len(r.files) {
				if rem := size % r.pieceSize; rem != 0 {
					r.padLeft = r.pieceSize - rem
				}
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *payloadReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

// hashPiecesV1 produces the concatenated SHA-1 piece hashes of the payload.
// The context is checked once per piece so a cancellation request is observed
// at bounded intervals.
func hashPiecesV1(ctx context.Context, files []fileEntry, pieceSize int, padded bool, tick func()) ([]byte, error) {
	r := &payloadReader{files: files, pieceSize: int64(pieceSize), padded: padded}
	defer r.Close()

	h := sha1Pool.Get().(hash.Hash)
	defer sha1Pool.Put(h)

	buf := make([]byte, pieceSize)
	var pieces []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h.Reset()
			h.Write(buf[:n])
			pieces = h.Sum(pieces)
			tick()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return pieces, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// countPiecesV1 predicts how many pieces hashPiecesV1 will emit, for
// progress accounting.
func countPiecesV1(files []fileEntry, total int64, pieceSize int, padded bool) int {
	ps := int64(pieceSize)
	if !padded {
		return int((total + ps - 1) / ps)
	}
	n := 0
	for _, f := range files {
		n += int((f.size + ps - 1) / ps)
	}
	return n
}
