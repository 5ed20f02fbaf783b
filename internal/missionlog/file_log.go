// File: internal/missionlog/file_log.go
package missionlog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// logRecord is one JSON line in the mission log file.
type logRecord struct {
	MissionID string        `json:"mission_id"`
	LoggedAt  time.Time     `json:"logged_at"`
	Turn      *schemas.Turn `json:"turn"`
}

// FileLog appends turns to a local JSON-lines file. Writes are serialized and
// flushed per turn, so a crash loses at most the turn being written.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
	log  *zap.Logger
}

// NewFileLog opens (or creates) the log file for appending.
func NewFileLog(path string, logger *zap.Logger) (*FileLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mission log %s: %w", path, err)
	}
	return &FileLog{
		file: file,
		log:  logger.Named("missionlog.file"),
	}, nil
}

// Append writes one turn as a single JSON line.
func (f *FileLog) Append(_ context.Context, missionID string, turn *schemas.Turn) error {
	record := logRecord{
		MissionID: missionID,
		LoggedAt:  time.Now().UTC(),
		Turn:      turn,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal mission log record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return fmt.Errorf("mission log is closed")
	}
	if _, err := f.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write mission log record: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (f *FileLog) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return fmt.Errorf("failed to close mission log: %w", err)
	}
	return nil
}
