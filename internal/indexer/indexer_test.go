package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanjrussell/TabularData/internal/common"
	"github.com/nathanjrussell/TabularData/internal/header"
	"github.com/nathanjrussell/TabularData/internal/rowindex"
)

func TestEndToEndBuild(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	outDir := filepath.Join(dir, "out")

	f, err := os.Create(csvPath)
	require.NoError(t, err)
	_, err = f.WriteString("id,name,category\n")
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		name := "plain_name"
		if i%2 == 0 {
			name = "\"quoted, name\""
		}
		_, err = f.WriteString(itoa(i) + "," + name + ",cat_" + itoa(i%5) + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	ix, err := New(Config{
		InputFile:      csvPath,
		OutputDir:      outDir,
		Workers:        4,
		ColumnsPerSlab: 2,
		EmitHeaderJSON: true,
		EmitBlooms:     true,
	}, nil, prometheus.NewRegistry())
	require.NoError(t, err)

	res, err := ix.Run()
	require.NoError(t, err)

	assert.Equal(t, 3, res.Columns)
	assert.Equal(t, uint64(1000), res.Rows)
	assert.Equal(t, uint64(0), res.Skipped)
	require.Len(t, res.Slabs, 2) // 2 + 1 columns
	assert.NotEmpty(t, res.BuildID)

	// Header artifacts.
	hix, err := header.OpenIndex(filepath.Join(outDir, HeaderIndexFile), csvPath, '"')
	require.NoError(t, err)
	defer hix.Close()
	headers, err := hix.Headers()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "category"}, headers)

	var jsonHeaders []string
	data, err := os.ReadFile(filepath.Join(outDir, HeadersJSONFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &jsonHeaders))
	assert.Equal(t, headers, jsonHeaders)

	// Row offsets resolve to real row starts.
	offsets, err := common.LoadRowOffsets(filepath.Join(outDir, rowindex.RowOffsetsFile))
	require.NoError(t, err)
	require.Len(t, offsets, 1000)
	src, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), src[offsets[0]-1])

	// Slab metadata: the category column has 5 distinct values.
	metaData, err := os.ReadFile(filepath.Join(outDir, "column_chunk_meta.bin"))
	require.NoError(t, err)
	require.Len(t, metaData, 2*common.SlabMetaSize)
	slab1 := common.GetSlabMeta(metaData[common.SlabMetaSize:])
	assert.Equal(t, uint32(1), slab1.NCols)
	assert.Equal(t, uint32(4), slab1.MaxGlobalID)

	// Build metadata sidecar.
	var meta common.BuildMeta
	data, err = os.ReadFile(res.MetaPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, res.BuildID, meta.BuildID)
	assert.Equal(t, 4, meta.Workers)
	assert.Equal(t, uint64(1000), meta.Rows)
	assert.NotEmpty(t, meta.Source.Hash)

	// Part files were removed by the merge.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "row_offsets_thread_")
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{InputFile: "x.csv"}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{InputFile: "x.csv", OutputDir: "out", Delimiter: '"', Quote: '"'}, nil, nil)
	assert.Error(t, err)
}

func TestMissingInputFails(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(Config{
		InputFile: filepath.Join(dir, "does-not-exist.csv"),
		OutputDir: filepath.Join(dir, "out"),
	}, nil, nil)
	require.NoError(t, err)

	_, err = ix.Run()
	assert.Error(t, err)
}

func TestSkipFaultyRowsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\nbad\n3,4\n"), 0644))

	ix, err := New(Config{
		InputFile:      csvPath,
		OutputDir:      filepath.Join(dir, "out"),
		Workers:        1,
		SkipFaultyRows: true,
	}, nil, nil)
	require.NoError(t, err)

	res, err := ix.Run()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Rows)
	assert.Equal(t, uint64(1), res.Skipped)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
