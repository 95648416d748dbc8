package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxAttachmentSize is the inclusive upper bound on attachment size.
const MaxAttachmentSize = 10 * 1024 * 1024

// allowedExtensions are the attachment extensions accepted for chat files.
var allowedExtensions = map[string]bool{
	"pdf": true,
	"md":  true,
	"txt": true,
}

// ValidateAttachment checks a file's extension and size against the
// attachment policy. It is called before any content is read into memory.
// Size exactly MaxAttachmentSize is accepted; one byte over is rejected.
func ValidateAttachment(path string, size int64) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return fmt.Errorf("%w: can't find file extension", ErrUnsupportedFormat)
	}
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: only pdf, md and txt are supported, got %q", ErrUnsupportedFormat, ext)
	}
	if size > MaxAttachmentSize {
		return fmt.Errorf("%w: file is %d bytes, max is %d", ErrPayloadTooLarge, size, MaxAttachmentSize)
	}
	return nil
}

// loaderForExtension maps a file extension to its loader type.
func loaderForExtension(path string) LoaderType {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "md":
		return LoaderMarkdown
	case "pdf":
		return LoaderPDF
	default:
		return LoaderText
	}
}

// FS reads attachment bytes and metadata. The production implementation
// wraps the OS file system; tests substitute a stub.
type FS interface {
	// Size returns the file size in bytes.
	Size(name string) (int64, error)

	// ReadFile returns the file content.
	ReadFile(name string) ([]byte, error)
}

// osFS implements FS against the real file system.
type osFS struct{}

// OSFS returns the OS-backed file system accessor.
func OSFS() FS {
	return osFS{}
}

func (osFS) Size(name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		return 0, fmt.Errorf("stat attachment: %w", err)
	}
	return info.Size(), nil
}

func (osFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}
