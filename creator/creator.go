package creator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"torrentforge/config"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Service builds torrent metafiles. It is safe for concurrent use; each
// Build call is independent.
type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) (*Service, error) {
	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create save directory: %w", err)
		}
	}
	return &Service{cfg: cfg}, nil
}

// Build performs one metafile creation. It reports percentages through
// progress as pieces are hashed and observes ctx at piece granularity, so a
// cancellation request takes effect within one piece's worth of work. The
// returned Result carries the piece size actually used.
func (s *Service) Build(ctx context.Context, params *Params, progress func(int)) (*Result, error) {
	progress(0)

	if err := s.checkResources(); err != nil {
		return nil, err
	}

	name, files, total, err := scanInput(params.InputPath)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxInputSize > 0 && total > s.cfg.MaxInputSize {
		return nil, fmt.Errorf("input size %d exceeds limit of %d bytes", total, s.cfg.MaxInputSize)
	}

	format := params.Format
	switch format {
	case FormatV1, FormatV2, FormatHybrid:
	case "":
		format = FormatHybrid
	default:
		return nil, fmt.Errorf("unknown torrent format: %q", params.Format)
	}

	pieceSize := params.PieceSize
	if pieceSize == 0 {
		pieceSize = selectPieceSize(total)
	} else if !validPieceSize(pieceSize) {
		return nil, fmt.Errorf("piece size must be a power of two of at least %d bytes", minPieceSize)
	}

	// Progress accounting: one unit per piece hashed, per format pass.
	padded := format == FormatHybrid
	totalUnits := 0
	if format != FormatV2 {
		totalUnits += countPiecesV1(files, total, pieceSize, padded)
	}
	if format != FormatV1 {
		totalUnits += countPiecesV2(files, pieceSize)
	}
	if totalUnits == 0 {
		totalUnits = 1
	}
	done := 0
	tick := func() {
		done++
		p := done * 100 / totalUnits
		if p > 100 {
			p = 100
		}
		progress(p)
	}

	var v1pieces []byte
	if format != FormatV2 {
		v1pieces, err = hashPiecesV1(ctx, files, pieceSize, padded, tick)
		if err != nil {
			return nil, err
		}
	}

	var v2 []*fileHashes
	if format != FormatV1 {
		v2 = make([]*fileHashes, len(files))
		for i, f := range files {
			if f.size == 0 {
				tick()
				continue
			}
			fh, err := hashFileV2(ctx, f.absPath, pieceSize, tick)
			if err != nil {
				return nil, err
			}
			v2[i] = fh
		}
	}

	raw, err := encodeMetainfo(params, format, name, files, pieceSize, v1pieces, v2)
	if err != nil {
		return nil, err
	}

	res := &Result{PieceSize: pieceSize}
	if params.SavePath != "" {
		savePath := params.SavePath
		if !filepath.IsAbs(savePath) && s.cfg.SaveDir != "" {
			savePath = filepath.Join(s.cfg.SaveDir, savePath)
		}
		if err := os.WriteFile(savePath, raw, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write torrent file: %w", err)
		}
		res.Path = savePath
	} else {
		res.Content = raw
	}

	progress(100)
	return res, nil
}

// countPiecesV2 mirrors the tick cadence of the v2 hashing pass.
func countPiecesV2(files []fileEntry, pieceSize int) int {
	n := 0
	for _, f := range files {
		u := int((f.size + int64(pieceSize) - 1) / int64(pieceSize))
		if u == 0 {
			u = 1
		}
		n += u
	}
	return n
}

// checkResources verifies that the system has enough free resources to start
// a new build. A zero threshold disables the corresponding check.
func (s *Service) checkResources() error {
	if s.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-s.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], s.cfg.ThrottleCPU)
		}
	}

	if s.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(s.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, s.cfg.ThrottleFreeMem)
		}
	}

	if s.cfg.ThrottleFreeDisk > 0 {
		dir := s.cfg.SaveDir
		if dir == "" {
			dir = os.TempDir()
		}
		du, err := disk.Usage(dir)
		if err != nil {
			log.Printf("Warning: could not get disk usage: %v", err)
		} else if du.Free < uint64(s.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", du.Free, s.cfg.ThrottleFreeDisk)
		}
	}

	return nil
}
