//go:build !unix

package mmap

import "os"

// File is a read-only view of a file's contents.
type File struct {
	data []byte
}

// Open reads path fully into memory on platforms without mmap support.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is caller-configured
	if err != nil {
		return nil, err
	}
	return &File{data: data}, nil
}

// Bytes returns the file contents.
func (f *File) Bytes() []byte { return f.data }

// Close releases the buffer.
func (f *File) Close() error {
	f.data = nil
	return nil
}
