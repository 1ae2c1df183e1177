//go:build windows

package common

import (
	"io"
	"os"
)

// MmapFile reads the whole file on Windows. Callers treat the result exactly
// like a mapping; MunmapFile is a no-op.
func MmapFile(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}

// MunmapFile releases a MmapFile result (no-op for the read-all fallback).
func MunmapFile(data []byte) error {
	return nil
}
