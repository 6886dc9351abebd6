package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"LnSPoll/logger"
	"LnSPoll/model"

	"github.com/cenkalti/backoff/v5"
)

// FileStore appends one JSON document per line to a local file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates the parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create response directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Close() error { return nil }

// Save appends resp as a single line. A failed write is rolled back so the
// file always ends on a complete line.
func (s *FileStore) Save(ctx context.Context, resp *model.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(resp)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal response: %w", err))
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open response file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat response file: %w", err)
	}

	// 上次写入被中断时末尾没有换行，先补上
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			f.Close()
			return fmt.Errorf("read response file tail: %w", err)
		}
		if last[0] != '\n' {
			line = append([]byte{'\n'}, line...)
		}
	}

	if _, err := f.Write(line); err != nil {
		if terr := f.Truncate(info.Size()); terr != nil {
			f.Close()
			return backoff.Permanent(fmt.Errorf("append response: %w (rollback failed: %v)", err, terr))
		}
		f.Close()
		return fmt.Errorf("append response: %w", err)
	}
	// 数据已完整写入，重试只会产生重复记录
	if err := f.Close(); err != nil {
		return backoff.Permanent(fmt.Errorf("close response file: %w", err))
	}
	return nil
}

// LoadAll decodes every line in file order. Lines that do not decode are
// logged and skipped.
func (s *FileStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open response file: %w", err)
	}
	defer f.Close()

	var out []*model.Response
	var offset int64
	rd := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, readErr := rd.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read response file: %w", readErr)
		}
		lineStart := offset
		offset += int64(len(raw))
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
			var r model.Response
			if err := json.Unmarshal(trimmed, &r); err != nil {
				logger.Warn("[Store] skipping malformed response line",
					logger.String("path", s.path),
					logger.Int("line", lineNo),
					logger.Int64("offset", lineStart),
					logger.ErrorField(err))
			} else {
				out = append(out, &r)
			}
		}
		if readErr != nil {
			break
		}
	}
	return out, nil
}

func (s *FileStore) Count(ctx context.Context) (int, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// DeleteAll removes the file.
func (s *FileStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove response file: %w", err)
	}
	return nil
}
