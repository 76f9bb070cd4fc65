// Package storage implements FileStorage, the append-only JSON-lines
// journal that is the only durability mechanism the core talks to.
package storage

import (
	"bufio"
	"fmt"
	"os"

	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
	"github.com/quorumkv/quorumkv/pkg/log"
)

// FileStorage is an append-only journal of JSON lines, one value per
// line. It is not safe for concurrent use; callers own the single thread
// that drives Node.
type FileStorage struct {
	file *os.File
}

// Open opens or creates the file at path for read+write without
// truncating existing content.
func Open(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &FileStorage{file: f}, nil
}

// Close releases the underlying file handle.
func (s *FileStorage) Close() error {
	return s.file.Close()
}

// LoadEntries seeks to the start of the journal and reads it line by
// line, skipping blank lines. A line that fails to parse is reported but
// does not abort the load, tolerating a half-written trailing line left
// by a previous crash.
func (s *FileStorage) LoadEntries() ([]jsonvalue.Value, error) {
	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("seek journal: %w", err)
	}

	var entries []jsonvalue.Value
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		trimmed := trimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		val, err := jsonvalue.Parse(trimmed)
		if err != nil {
			logger := log.WithComponent("storage")
			logger.Warn().Err(err).Msg("skipping unparseable journal line")
			continue
		}
		entries = append(entries, val)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// AppendEntry writes value plus a newline and flushes to disk.
func (s *FileStorage) AppendEntry(value jsonvalue.Value) error {
	if _, err := s.file.Seek(0, 2); err != nil {
		return fmt.Errorf("seek journal end: %w", err)
	}
	if err := s.writeLine(value); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// SaveSnapshot truncates the journal to zero length and writes value as
// its sole line. After this returns successfully, the file contains
// exactly that one line.
func (s *FileStorage) SaveSnapshot(value jsonvalue.Value) error {
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek journal start: %w", err)
	}
	if err := s.writeLine(value); err != nil {
		return fmt.Errorf("write journal snapshot: %w", err)
	}
	return nil
}

func (s *FileStorage) writeLine(value jsonvalue.Value) error {
	if _, err := s.file.Write(value.Bytes()); err != nil {
		return err
	}
	if _, err := s.file.Write([]byte("\n")); err != nil {
		return err
	}
	return s.file.Sync()
}
