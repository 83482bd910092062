package auditstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

const (
	currentFileName  = "audit.log"
	rotatedFileGlob  = "audit-*.log"
	rotationTimeSpec = "2006-01-02-15-04-05.000000000"
)

// FileStore appends audit logs as newline-delimited JSON with size based
// rotation
type FileStore struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
	log      logrus.FieldLogger
}

// FileConfig configures the file store
type FileConfig struct {
	BasePath string // Base directory for audit logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of files to keep (default: 10)
}

// DefaultFileConfig returns the default file store configuration
func DefaultFileConfig() FileConfig {
	return FileConfig{
		BasePath: "./audit-logs",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// NewFileStore creates the directory and opens the current log file
func NewFileStore(config FileConfig, log logrus.FieldLogger) (*FileStore, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	store := &FileStore{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		log:      log,
	}

	if store.maxSize <= 0 {
		store.maxSize = 100 * 1024 * 1024
	}
	if store.maxFiles <= 0 {
		store.maxFiles = 10
	}

	if err := store.openLogFile(); err != nil {
		return nil, err
	}

	return store, nil
}

// openLogFile opens or creates the current log file, rotating it first when
// it is already full
func (s *FileStore) openLogFile() error {
	filename := filepath.Join(s.basePath, currentFileName)

	if s.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= s.maxSize {
			if err := s.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// rotateFile renames the current file with a timestamp suffix
func (s *FileStore) rotateFile() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	current := filepath.Join(s.basePath, currentFileName)
	rotated := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format(rotationTimeSpec)))

	if err := os.Rename(current, rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		s.log.WithError(err).Warn("Failed to clean up old audit log files")
	}
	return nil
}

// cleanupOldFiles keeps the newest maxFiles rotated files
func (s *FileStore) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(s.basePath, rotatedFileGlob))
	if err != nil {
		return err
	}

	// Glob returns names sorted lexically, which is oldest first
	if len(files) > s.maxFiles {
		for _, file := range files[:len(files)-s.maxFiles] {
			if err := os.Remove(file); err != nil {
				s.log.WithError(err).WithField("file", file).Warn("Failed to remove old audit log file")
			}
		}
	}
	return nil
}

// Save appends the audit log as one JSON line
func (s *FileStore) Save(ctx context.Context, info *auditing.AuditLogInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("file store is closed")
	}

	if s.rotate {
		if stat, err := s.file.Stat(); err == nil && stat.Size() >= s.maxSize {
			s.file.Close()
			s.file = nil
			if err := s.openLogFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	if err := s.encoder.Encode(info); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// ReadLogs returns up to count of the most recent audit logs from the
// current file, oldest first. A count of zero or less returns all of them.
func (s *FileStore) ReadLogs(count int) ([]*auditing.AuditLogInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(filepath.Join(s.basePath, currentFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var logs []*auditing.AuditLogInfo
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		info, err := auditing.FromJSON(line)
		if err != nil {
			return nil, err
		}
		logs = append(logs, info)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log file: %w", err)
	}

	if count > 0 && len(logs) > count {
		logs = logs[len(logs)-count:]
	}
	return logs, nil
}

// Ping checks that the log directory is still writable
func (s *FileStore) Ping(ctx context.Context) error {
	probe, err := os.CreateTemp(s.basePath, ".probe-*")
	if err != nil {
		return fmt.Errorf("audit log directory not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// Close closes the current log file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
