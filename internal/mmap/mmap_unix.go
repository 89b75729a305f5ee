//go:build unix

// Package mmap provides read-only memory mapping for replay paths, with a
// portable read-everything fallback on platforms without mmap.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a read-only view of a file's contents.
type File struct {
	data   []byte
	mapped bool
}

// Open maps path read-only. Empty files return a zero-length view.
func Open(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is caller-configured
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return &File{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{data: data, mapped: true}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (f *File) Bytes() []byte { return f.data }

// Close unmaps the file.
func (f *File) Close() error {
	if !f.mapped {
		return nil
	}
	data := f.data
	f.data = nil
	f.mapped = false
	return unix.Munmap(data)
}
