package creator

// Format selects the metainfo layout to produce.
type Format string

const (
	FormatV1     Format = "v1"
	FormatV2     Format = "v2"
	FormatHybrid Format = "hybrid"
)

const (
	// blockSize is the BEP 52 hashing block; also the smallest legal piece size.
	blockSize    = 16 * 1024
	minPieceSize = blockSize

	// Bounds for automatic piece size selection.
	maxAutoPieceSize = 16 * 1024 * 1024
	autoPieceTarget  = 2048
)

type Params struct {
	InputPath string
	SavePath  string
	PieceSize int
	Private   bool
	Comment   string
	Source    string
	Trackers  []string
	URLSeeds  []string
	Format    Format
}

// Clone returns a copy that shares no mutable state with the original.
func (p *Params) Clone() *Params {
	c := *p
	c.Trackers = append([]string(nil), p.Trackers...)
	c.URLSeeds = append([]string(nil), p.URLSeeds...)
	return &c
}

// Result is the outcome of a successful build. Content and Path are mutually
// exclusive: an empty SavePath yields the metafile inline, otherwise it is
// written to Path. PieceSize is the size actually used, which differs from
// the requested one when it was left at 0 (auto).
type Result struct {
	Path      string
	PieceSize int
	Content   []byte
}

// selectPieceSize picks the smallest power of two that keeps the piece count
// at or under autoPieceTarget, clamped to [minPieceSize, maxAutoPieceSize].
func selectPieceSize(totalSize int64) int {
	ps := int64(minPieceSize)
	for ps < maxAutoPieceSize && (totalSize+ps-1)/ps > autoPieceTarget {
		ps *= 2
	}
	return int(ps)
}

func validPieceSize(ps int) bool {
	return ps >= minPieceSize && ps&(ps-1) == 0
}
