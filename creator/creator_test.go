package creator

import (
	"bytes"
	"context"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"torrentforge/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func testConfig(t *testing.T) *config.Config {
	// Zero throttle thresholds disable the resource checks.
	return &config.Config{
		MaxInputSize: 1 << 30,
		SaveDir:      t.TempDir(),
	}
}

func testService(t *testing.T) *Service {
	svc, err := NewService(testConfig(t))
	require.NoError(t, err)
	return svc
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// deterministic filler content
func filler(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func decodeMeta(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var meta map[string]interface{}
	require.NoError(t, bencode.DecodeBytes(raw, &meta))
	return meta
}

func infoDict(t *testing.T, meta map[string]interface{}) map[string]interface{} {
	t.Helper()
	info, ok := meta["info"].(map[string]interface{})
	require.True(t, ok, "metainfo has no info dictionary")
	return info
}

func TestBuild_SingleFileV1(t *testing.T) {
	payload := filler(40000) // 3 pieces at 16 KiB
	path := writeFile(t, t.TempDir(), "movie.mkv", payload)
	svc := testService(t)

	var progress []int
	res, err := svc.Build(context.Background(), &Params{
		InputPath: path,
		PieceSize: 16384,
		Format:    FormatV1,
		Private:   true,
		Comment:   "test torrent",
		Source:    "TF",
		Trackers:  []string{"http://tracker.one/announce", "http://tracker.two/announce"},
		URLSeeds:  []string{"http://seed/movie.mkv"},
	}, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, 16384, res.PieceSize)
	assert.Empty(t, res.Path)
	require.NotEmpty(t, res.Content)

	meta := decodeMeta(t, res.Content)
	assert.Equal(t, "http://tracker.one/announce", meta["announce"])
	assert.Equal(t, "test torrent", meta["comment"])
	assert.Equal(t, createdBy, meta["created by"])
	assert.NotContains(t, meta, "piece layers")

	info := infoDict(t, meta)
	assert.Equal(t, "movie.mkv", info["name"])
	assert.Equal(t, int64(16384), info["piece length"])
	assert.Equal(t, int64(40000), info["length"])
	assert.Equal(t, int64(1), info["private"])
	assert.Equal(t, "TF", info["source"])
	assert.NotContains(t, info, "files")
	assert.NotContains(t, info, "meta version")

	// Piece hashes match a straight SHA-1 over 16 KiB chunks.
	var want []byte
	for off := 0; off < len(payload); off += 16384 {
		end := off + 16384
		if end > len(payload) {
			end = len(payload)
		}
		sum := sha1.Sum(payload[off:end])
		want = append(want, sum[:]...)
	}
	assert.Equal(t, want, []byte(info["pieces"].(string)))

	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must not go backwards")
	}
}

func TestBuild_DirectoryHybrid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "album")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeFile(t, dir, "a.bin", filler(20000))
	writeFile(t, dir, "b.bin", filler(5000))
	writeFile(t, dir, ".hidden", []byte("skip me"))
	svc := testService(t)

	res, err := svc.Build(context.Background(), &Params{
		InputPath: dir,
		PieceSize: 16384,
		Format:    FormatHybrid,
	}, func(int) {})
	require.NoError(t, err)

	meta := decodeMeta(t, res.Content)
	info := infoDict(t, meta)
	assert.Equal(t, "album", info["name"])
	assert.Equal(t, int64(2), info["meta version"])

	// v1 part: a.bin, a pad file aligning it to the piece boundary, b.bin.
	files, ok := info["files"].([]interface{})
	require.True(t, ok)
	require.Len(t, files, 3)

	first := files[0].(map[string]interface{})
	assert.Equal(t, int64(20000), first["length"])

	pad := files[1].(map[string]interface{})
	assert.Equal(t, "p", pad["attr"])
	assert.Equal(t, int64(2*16384-20000), pad["length"])
	padPath := pad["path"].([]interface{})
	assert.Equal(t, ".pad", padPath[0])

	last := files[2].(map[string]interface{})
	assert.Equal(t, int64(5000), last["length"])

	// Padded stream: a.bin fills 2 pieces, b.bin 1 piece.
	assert.Len(t, []byte(info["pieces"].(string)), 3*sha1.Size)

	// v2 part: both files in the tree, the hidden one excluded.
	tree, ok := info["file tree"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, tree, 2)
	aLeaf := tree["a.bin"].(map[string]interface{})[""].(map[string]interface{})
	assert.Equal(t, int64(20000), aLeaf["length"])
	aRoot := aLeaf["pieces root"].(string)
	assert.Len(t, aRoot, digestSize)

	// a.bin spans two pieces, so it owns a piece layer entry.
	layers, ok := meta["piece layers"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, layers, 1)
	assert.Len(t, layers[aRoot].(string), 2*digestSize)
}

func TestBuild_V2SingleSmallFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.pdf", filler(10000))
	svc := testService(t)

	res, err := svc.Build(context.Background(), &Params{
		InputPath: path,
		PieceSize: 16384,
		Format:    FormatV2,
	}, func(int) {})
	require.NoError(t, err)

	meta := decodeMeta(t, res.Content)
	info := infoDict(t, meta)
	assert.Equal(t, int64(2), info["meta version"])
	assert.NotContains(t, info, "pieces")
	assert.NotContains(t, info, "length")
	assert.NotContains(t, info, "files")

	tree := info["file tree"].(map[string]interface{})
	leaf := tree["doc.pdf"].(map[string]interface{})[""].(map[string]interface{})
	assert.Equal(t, int64(10000), leaf["length"])
	assert.Len(t, leaf["pieces root"].(string), digestSize)

	// Single-piece files carry no layer entries, but the key must exist.
	layers, ok := meta["piece layers"].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, layers)
}

func TestBuild_AutoPieceSize(t *testing.T) {
	path := writeFile(t, t.TempDir(), "small.bin", filler(100000))
	svc := testService(t)

	res, err := svc.Build(context.Background(), &Params{
		InputPath: path,
		Format:    FormatV1,
	}, func(int) {})
	require.NoError(t, err)
	assert.Equal(t, minPieceSize, res.PieceSize)
}

func TestSelectPieceSize(t *testing.T) {
	assert.Equal(t, minPieceSize, selectPieceSize(0))
	assert.Equal(t, minPieceSize, selectPieceSize(16384*autoPieceTarget))
	assert.Equal(t, 2*minPieceSize, selectPieceSize(16384*autoPieceTarget+1))
	assert.Equal(t, 524288, selectPieceSize(1<<30))
	// Huge payloads clamp rather than grow without bound.
	assert.Equal(t, maxAutoPieceSize, selectPieceSize(1<<45))
}

func TestBuild_InputErrors(t *testing.T) {
	svc := testService(t)
	noop := func(int) {}

	t.Run("missing input path", func(t *testing.T) {
		_, err := svc.Build(context.Background(), &Params{InputPath: "/no/such/path"}, noop)
		assert.EqualError(t, err, "input path does not exist")
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := svc.Build(context.Background(), &Params{InputPath: t.TempDir()}, noop)
		assert.EqualError(t, err, "input directory contains no files")
	})

	t.Run("invalid piece size", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "a.bin", filler(100))
		_, err := svc.Build(context.Background(), &Params{InputPath: path, PieceSize: 10000}, noop)
		assert.ErrorContains(t, err, "power of two")
	})

	t.Run("unknown format", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "a.bin", filler(100))
		_, err := svc.Build(context.Background(), &Params{InputPath: path, Format: "v3"}, noop)
		assert.ErrorContains(t, err, "unknown torrent format")
	})

	t.Run("input exceeds size limit", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MaxInputSize = 10
		limited, err := NewService(cfg)
		require.NoError(t, err)
		path := writeFile(t, t.TempDir(), "big.bin", filler(100))
		_, err = limited.Build(context.Background(), &Params{InputPath: path}, noop)
		assert.ErrorContains(t, err, "exceeds limit")
	})
}

func TestBuild_Cancellation(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.bin", filler(200000))
	svc := testService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Build(ctx, &Params{InputPath: path, PieceSize: 16384, Format: FormatV1}, func(int) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_SaveToFile(t *testing.T) {
	cfg := testConfig(t)
	svc, err := NewService(cfg)
	require.NoError(t, err)
	path := writeFile(t, t.TempDir(), "a.bin", filler(1000))

	res, err := svc.Build(context.Background(), &Params{
		InputPath: path,
		SavePath:  "out.torrent",
		Format:    FormatV1,
	}, func(int) {})
	require.NoError(t, err)

	assert.Nil(t, res.Content)
	assert.Equal(t, filepath.Join(cfg.SaveDir, "out.torrent"), res.Path)

	raw, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	info := infoDict(t, decodeMeta(t, raw))
	assert.Equal(t, "a.bin", info["name"])
}

func TestPayloadReader_Padding(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", bytes.Repeat([]byte{1}, 100))
	b := writeFile(t, dir, "b.bin", bytes.Repeat([]byte{2}, 50))

	r := &payloadReader{
		files: []fileEntry{
			{absPath: a, size: 100},
			{absPath: b, size: 50},
		},
		pieceSize: 128,
		padded:    true,
	}
	defer r.Close()

	var out bytes.Buffer
	_, err := out.ReadFrom(r)
	require.NoError(t, err)

	want := append(bytes.Repeat([]byte{1}, 100), make([]byte, 28)...)
	want = append(want, bytes.Repeat([]byte{2}, 50)...)
	assert.Equal(t, want, out.Bytes())
}
