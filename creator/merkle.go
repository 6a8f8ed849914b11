package creator

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
)

const digestSize = sha256.Size

// fileHashes carries the BEP 52 hashing products for one file: the merkle
// root over its 16 KiB block hashes, and, for files spanning more than one
// piece, the piece layer (concatenated roots of each piece's block subtree).
type fileHashes struct {
	root       [digestSize]byte
	pieceLayer []byte
}

// merkleRoot reduces leaves to a single root, first padding the leaf layer
// with zero hashes up to width. width must be a power of two no smaller than
// len(leaves).
func merkleRoot(leaves [][digestSize]byte, width int) [digestSize]byte {
	layer := make([][digestSize]byte, width)
	copy(layer, leaves)
	var buf [2 * digestSize]byte
	for len(layer) > 1 {
		next := layer[:len(layer)/2]
		for i := range next {
			copy(buf[:digestSize], layer[2*i][:])
			copy(buf[digestSize:], layer[2*i+1][:])
			next[i] = sha256.Sum256(buf[:])
		}
		layer = next
	}
	return layer[0]
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// hashFileV2 reads one file in 16 KiB blocks and builds its merkle products.
// tick fires once per piece-sized span of blocks; the context is checked per
// block so a cancellation request is observed at bounded intervals. Must not
// be called for zero-length files, which carry no pieces root.
func hashFileV2(ctx context.Context, path string, pieceSize int, tick func()) (*fileHashes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	blocksPerPiece := pieceSize / blockSize
	var leaves [][digestSize]byte
	buf := make([]byte, blockSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			leaves = append(leaves, sha256.Sum256(buf[:n]))
			if len(leaves)%blocksPerPiece == 0 {
				tick()
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(leaves)%blocksPerPiece != 0 {
		tick()
	}

	fh := &fileHashes{}
	if len(leaves) <= blocksPerPiece {
		// Single-piece file: the tree is only as deep as its own blocks.
		fh.root = merkleRoot(leaves, nextPowerOfTwo(len(leaves)))
		return fh, nil
	}

	fh.pieceLayer = make([]byte, 0, ((len(leaves)+blocksPerPiece-1)/blocksPerPiece)*digestSize)
	for i := 0; i < len(leaves); i += blocksPerPiece {
		end := i + blocksPerPiece
		if end > len(leaves) {
			end = len(leaves)
		}
		root := merkleRoot(leaves[i:end], blocksPerPiece)
		fh.pieceLayer = append(fh.pieceLayer, root[:]...)
	}
	fh.root = merkleRoot(leaves, nextPowerOfTwo(len(leaves)))
	return fh, nil
}
