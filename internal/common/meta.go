package common

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
)

// SourceFingerprint captures the identity of the source CSV at build time so
// a consumer can detect that indexes no longer match the file.
type SourceFingerprint struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	Hash  string `json:"hash"`
}

// SlabStats summarizes one factorization slab for the build metadata.
type SlabStats struct {
	Slab        int    `json:"slab"`
	ColStart    int    `json:"colStart"`
	NCols       int    `json:"ncols"`
	MaxGlobalID uint32 `json:"maxGlobalId"`
}

// BuildMeta is the JSON sidecar written next to the binary artifacts. The
// worker count and columns-per-slab are recorded because global codes are
// only stable while they stay fixed.
type BuildMeta struct {
	BuildID        string            `json:"buildId"`
	CapturedAt     time.Time         `json:"capturedAt"`
	Source         SourceFingerprint `json:"source"`
	Columns        int               `json:"columns"`
	Rows           uint64            `json:"rows"`
	Workers        int               `json:"workers"`
	ColumnsPerSlab int               `json:"columnsPerSlab"`
	Slabs          []SlabStats       `json:"slabs"`
}

// NewBuildMeta allocates a metadata record with a fresh build id.
func NewBuildMeta() *BuildMeta {
	return &BuildMeta{BuildID: uuid.NewString()}
}

// Save writes the metadata as indented JSON.
func (bm *BuildMeta) Save(path string) error {
	bm.CapturedAt = time.Now()
	data, err := json.MarshalIndent(bm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Fingerprint samples the file head, middle, and tail (512 KiB each) into a
// SHA-1 so very large files fingerprint in constant time.
func Fingerprint(path string) (SourceFingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return SourceFingerprint{}, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return SourceFingerprint{}, err
	}

	size := stat.Size()
	const sampleSize = int64(512 * 1024)

	hasher := sha1.New()
	buf := make([]byte, sampleSize)

	n, _ := f.ReadAt(buf, 0)
	hasher.Write(buf[:n])

	if size > sampleSize*3 {
		n, _ = f.ReadAt(buf, (size/2)-(sampleSize/2))
		hasher.Write(buf[:n])
	}
	if size > sampleSize {
		n, _ = f.ReadAt(buf, size-sampleSize)
		hasher.Write(buf[:n])
	}

	return SourceFingerprint{
		Path:  path,
		Size:  size,
		Mtime: stat.ModTime().Unix(),
		Hash:  hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}
