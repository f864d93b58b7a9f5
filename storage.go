package main

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MediaKind classifies an asset once at the upload boundary, from the
// declared content type. Downstream code switches on the kind instead of
// re-matching content-type strings.
type MediaKind string

const (
	MediaKindImage    MediaKind = "image"
	MediaKindPdf      MediaKind = "pdf"
	MediaKindDocument MediaKind = "document"
	MediaKindOther    MediaKind = "other"
)

func ResolveMediaKind(contentType string) MediaKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaKindImage
	case ct == "application/pdf":
		return MediaKindPdf
	case ct == "application/msword",
		ct == "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		strings.HasPrefix(ct, "text/"):
		return MediaKindDocument
	default:
		return MediaKindOther
	}
}

// Storage is a sha1 content-addressed blob store. Identical content
// stored twice lands on the same key, so assembled chunked uploads are
// indistinguishable from direct uploads.
type Storage struct {
	basePath string
}

func NewStorage(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

// Store writes the reader's content to a temp file, hashes it on the way
// through, and renames it into place under its sha1 key.
func (s *Storage) Store(reader io.Reader) (string, int64, error) {
	hasher := sha1.New()
	tempFile, err := os.CreateTemp(s.basePath, "upload-*")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tempFile.Name())

	writer := io.MultiWriter(tempFile, hasher)
	size, err := io.Copy(writer, reader)
	if err != nil {
		tempFile.Close()
		return "", 0, err
	}
	tempFile.Close()

	sha1Hash := hex.EncodeToString(hasher.Sum(nil))
	targetPath := s.getFilePath(sha1Hash)

	if _, err := os.Stat(targetPath); err == nil {
		return sha1Hash, size, nil
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return "", 0, err
	}

	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return "", 0, err
	}

	return sha1Hash, size, nil
}

func (s *Storage) Retrieve(sha1Hash string) (*os.File, error) {
	return os.Open(s.getFilePath(sha1Hash))
}

func (s *Storage) Exists(sha1Hash string) bool {
	_, err := os.Stat(s.getFilePath(sha1Hash))
	return err == nil
}

func (s *Storage) getFilePath(sha1Hash string) string {
	return filepath.Join(s.basePath, sha1Hash[:2], sha1Hash[2:4], sha1Hash)
}

// ChunkDir is the holding area for not-yet-assembled upload chunks.
func (s *Storage) ChunkDir() string {
	return filepath.Join(s.basePath, "chunks")
}

// LogoDir holds materialized logo images, served by name.
func (s *Storage) LogoDir() string {
	return filepath.Join(s.basePath, "logos")
}

// SaveLogo writes logo bytes before any cache entry references them.
func (s *Storage) SaveLogo(fileName string, data []byte) error {
	if err := os.MkdirAll(s.LogoDir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.LogoDir(), fileName), data, 0644)
}
