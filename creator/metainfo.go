package creator

import (
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

const createdBy = "torrentforge/1.0"

// encodeMetainfo assembles the metainfo dictionary and bencodes it. v2 is
// aligned with files and holds nil entries for zero-length files, which carry
// no pieces root. Map keys come out sorted, as bencode requires.
func encodeMetainfo(params *Params, format Format, name string, files []fileEntry, pieceSize int, v1pieces []byte, v2 []*fileHashes) ([]byte, error) {
	info := map[string]interface{}{
		"name":         name,
		"piece length": pieceSize,
	}
	if params.Private {
		info["private"] = 1
	}
	if params.Source != "" {
		info["source"] = params.Source
	}

	singleFile := len(files) == 1 && files[0].relPath == nil

	if format != FormatV2 {
		info["pieces"] = v1pieces
		if singleFile {
			info["length"] = files[0].size
		} else {
			var list []interface{}
			for i, f := range files {
				list = append(list, map[string]interface{}{
					"length": f.size,
					"path":   f.relPath,
				})
				// Hybrid metainfo aligns every file to a piece boundary
				// with BEP 47 pad files; the last file needs none.
				if format == FormatHybrid && i < len(files)-1 {
					if rem := f.size % int64(pieceSize); rem != 0 {
						pad := int64(pieceSize) - rem
						list = append(list, map[string]interface{}{
							"attr":   "p",
							"length": pad,
							"path":   []string{".pad", strconv.FormatInt(pad, 10)},
						})
					}
				}
			}
			info["files"] = list
		}
	}

	if format != FormatV1 {
		info["meta version"] = 2
		tree := map[string]interface{}{}
		for i, f := range files {
			comps := f.relPath
			if comps == nil {
				comps = []string{name}
			}
			node := tree
			for _, c := range comps[:len(comps)-1] {
				child, ok := node[c].(map[string]interface{})
				if !ok {
					child = map[string]interface{}{}
					node[c] = child
				}
				node = child
			}
			leaf := map[string]interface{}{"length": f.size}
			if v2[i] != nil {
				leaf["pieces root"] = v2[i].root[:]
			}
			node[comps[len(comps)-1]] = map[string]interface{}{"": leaf}
		}
		info["file tree"] = tree
	}

	meta := map[string]interface{}{
		"info":          info,
		"created by":    createdBy,
		"creation date": time.Now().Unix(),
	}
	if params.Comment != "" {
		meta["comment"] = params.Comment
	}

	var trackers []string
	for _, t := range params.Trackers {
		if t = strings.TrimSpace(t); t != "" {
			trackers = append(trackers, t)
		}
	}
	if len(trackers) > 0 {
		meta["announce"] = trackers[0]
		tiers := make([][]string, 0, len(trackers))
		for _, t := range trackers {
			tiers = append(tiers, []string{t})
		}
		meta["announce-list"] = tiers
	}

	var seeds []string
	for _, s := range params.URLSeeds {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	if len(seeds) > 0 {
		meta["url-list"] = seeds
	}

	if format != FormatV1 {
		layers := map[string][]byte{}
		for i := range files {
			if v2[i] != nil && len(v2[i].pieceLayer) > 0 {
				layers[string(v2[i].root[:])] = v2[i].pieceLayer
			}
		}
		meta["piece layers"] = layers
	}

	return bencode.EncodeBytes(meta)
}
