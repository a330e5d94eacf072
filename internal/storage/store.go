package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrInvalidName is returned for clip names that were not generated by the service
	ErrInvalidName = errors.New("invalid clip name")

	// ErrNotFound is returned when a clip does not exist
	ErrNotFound = errors.New("clip not found")
)

// Store manages the upload and output directories
type Store struct {
	uploadDir string
	outputDir string
	logger    *slog.Logger

	// Statistics
	uploads      uint64
	uploadBytes  uint64
	clipsServed  uint64
	lastUploadAt time.Time

	mu sync.RWMutex
}

// StoreStats represents storage statistics
type StoreStats struct {
	UploadDir    string    `json:"upload_dir"`
	OutputDir    string    `json:"output_dir"`
	Uploads      uint64    `json:"uploads"`
	UploadBytes  uint64    `json:"upload_bytes"`
	ClipsServed  uint64    `json:"clips_served"`
	LastUploadAt time.Time `json:"last_upload_at"`
}

// New creates a store and makes sure both directories exist
func New(uploadDir, outputDir string, logger *slog.Logger) (*Store, error) {
	if uploadDir == "" || outputDir == "" {
		return nil, fmt.Errorf("upload and output directories must be set")
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		uploadDir: filepath.Clean(uploadDir),
		outputDir: filepath.Clean(outputDir),
		logger:    logger.With(slog.String("component", "storage")),
	}

	if err := s.EnsureDirs(); err != nil {
		return nil, err
	}

	return s, nil
}

// EnsureDirs creates the upload and output directories if needed
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.uploadDir, s.outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SaveUpload writes the raw upload under name in the upload directory.
// An existing file is never overwritten.
func (s *Store) SaveUpload(name string, data []byte) (string, error) {
	path, err := s.within(s.uploadDir, name)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload %s: %w", name, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write upload %s: %w", name, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload %s: %w", name, err)
	}

	s.mu.Lock()
	s.uploads++
	s.uploadBytes += uint64(len(data))
	s.lastUploadAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("Upload saved", slog.String("path", path), slog.Int("bytes", len(data)))

	return path, nil
}

// UploadPath returns the path of name in the upload directory
func (s *Store) UploadPath(name string) string {
	return filepath.Join(s.uploadDir, filepath.Base(name))
}

// OutputPath returns the path of name in the output directory
func (s *Store) OutputPath(name string) string {
	return filepath.Join(s.outputDir, filepath.Base(name))
}

// OpenClip opens a delivered clip for reading. Names that were not generated
// by NewNames are rejected before touching the filesystem.
func (s *Store) OpenClip(name string) (*os.File, os.FileInfo, error) {
	if !IsClipName(name) {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path, err := s.within(s.outputDir, name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.mu.Lock()
	s.clipsServed++
	s.mu.Unlock()

	return f, info, nil
}

// within joins name to dir and verifies the result stays inside dir
func (s *Store) within(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Clean(filepath.Join(dir, name))
	if filepath.Dir(path) != dir {
		return "", fmt.Errorf("%w: %q is outside of %s", ErrInvalidName, name, dir)
	}
	return path, nil
}

// UploadDir returns the upload directory
func (s *Store) UploadDir() string {
	return s.uploadDir
}

// OutputDir returns the output directory
func (s *Store) OutputDir() string {
	return s.outputDir
}

// GetStats returns current storage statistics
func (s *Store) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		UploadDir:    s.uploadDir,
		OutputDir:    s.outputDir,
		Uploads:      s.uploads,
		UploadBytes:  s.uploadBytes,
		ClipsServed:  s.clipsServed,
		LastUploadAt: s.lastUploadAt,
	}
}
