//go:build !windows

package common

import (
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile memory maps a file read-only. An empty file maps to an empty
// slice without touching the kernel.
func MmapFile(f *os.File) ([]byte, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return []byte{}, nil
	}
	return unix.Mmap(int(f.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
}

// MunmapFile unmaps a mapping produced by MmapFile.
func MunmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
