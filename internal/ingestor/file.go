package ingestor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/nxadm/tail"

	"github.com/GabrielNunesIT/logindex/internal/checkpoint"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// RescanInterval is how often path patterns are expanded again to pick up
// files created after start.
var RescanInterval = 10 * time.Second

// CheckpointInterval is how often read offsets are flushed to the store.
var CheckpointInterval = time.Second

// OffsetStore persists read offsets per file path.
type OffsetStore interface {
	Load(file string) (offset int64, ok bool, err error)
	Save(file string, offset int64) error
}

// FileOption configures the FileIngestor.
type FileOption func(*FileIngestor)

// WithOffsetStore sets the store used to resume files. It takes precedence
// over the checkpoint path in the config and is not closed by the ingestor.
func WithOffsetStore(s OffsetStore) FileOption {
	return func(f *FileIngestor) {
		f.store = s
	}
}

// FileIngestor tails files matching configured paths and emits one entry per line.
type FileIngestor struct {
	cfg    config.FileIngestorConfig
	name   string
	store  OffsetStore
	logger logger.ILogger

	mu      sync.Mutex
	tailing map[string]struct{}
	offsets map[string]int64
}

// NewFileIngestor creates a new file tailing ingestor.
func NewFileIngestor(cfg config.FileIngestorConfig, log logger.ILogger, opts ...FileOption) *FileIngestor {
	f := &FileIngestor{
		cfg:     cfg,
		name:    "file",
		logger:  log.SubLogger("FileIngestor"),
		tailing: make(map[string]struct{}),
		offsets: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the ingestor identifier.
func (f *FileIngestor) Name() string {
	return f.name
}

// Start tails every matching file until ctx is cancelled. With Once set it
// returns after every file has been read to its end.
func (f *FileIngestor) Start(ctx context.Context, out chan<- *model.Entry) error {
	defer close(out)

	files, err := f.expand()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files matched patterns: %v", f.cfg.Paths)
	}

	if f.store == nil && f.cfg.Checkpoint != "" {
		store, err := checkpoint.Open(f.cfg.Checkpoint)
		if err != nil {
			return err
		}
		defer store.Close()
		f.store = store
	}

	var wg sync.WaitGroup
	startAll := func(paths []string) {
		for _, path := range paths {
			if !f.claim(path) {
				continue
			}
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				if err := f.tailFile(ctx, path, out); err != nil {
					f.logger.Warningf("tail stopped: file=%s, error=%v", path, err)
				}
			}(path)
		}
	}
	startAll(files)

	if f.cfg.Once {
		wg.Wait()
		f.flushOffsets()
		return nil
	}

	rescan := time.NewTicker(RescanInterval)
	defer rescan.Stop()
	flush := time.NewTicker(CheckpointInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			f.flushOffsets()
			return ctx.Err()

		case <-rescan.C:
			files, err := f.expand()
			if err != nil {
				f.logger.Warningf("rescan failed: %v", err)
				continue
			}
			startAll(files)

		case <-flush.C:
			f.flushOffsets()
		}
	}
}

// tailFile follows one file, reopening it after rotation.
func (f *FileIngestor) tailFile(ctx context.Context, path string, out chan<- *model.Entry) error {
	location, err := f.startLocation(path)
	if err != nil {
		return err
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    !f.cfg.Once,
		ReOpen:    !f.cfg.Once,
		MustExist: false,
		Poll:      f.cfg.Poll,
		Location:  location,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tailing %s: %w", path, err)
	}
	defer t.Cleanup()

	f.logger.Debugf("tailing file: path=%s, offset=%d", path, location.Offset)
	sourceFile := SourceFileName(path)

	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil

		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				f.logger.Debugf("read error: file=%s, error=%v", path, line.Err)
				continue
			}

			end := line.SeekInfo.Offset
			if strings.TrimSpace(line.Text) == "" {
				f.record(path, end)
				continue
			}

			entry := model.NewEntry(f.name, []byte(line.Text))
			entry.SourceFile = sourceFile
			entry.Offset = max(end-int64(len(line.Text))-1, 0)
			entry.Metadata["file"] = path

			if !send(ctx, out, entry) {
				_ = t.Stop()
				return nil
			}
			f.record(path, end)
		}
	}
}

// startLocation resumes from a checkpoint when it is still inside the file.
func (f *FileIngestor) startLocation(path string) (*tail.SeekInfo, error) {
	if f.store != nil {
		offset, ok, err := f.store.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint for %s: %w", path, err)
		}
		if ok {
			if info, err := os.Stat(path); err == nil && info.Size() >= offset {
				return &tail.SeekInfo{Offset: offset, Whence: io.SeekStart}, nil
			}
			// Truncated or replaced since the checkpoint was written.
			return &tail.SeekInfo{Offset: 0, Whence: io.SeekStart}, nil
		}
	}
	if f.cfg.FromBeginning {
		return &tail.SeekInfo{Offset: 0, Whence: io.SeekStart}, nil
	}
	return &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}, nil
}

func (f *FileIngestor) claim(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tailing[path]; ok {
		return false
	}
	f.tailing[path] = struct{}{}
	return true
}

func (f *FileIngestor) record(path string, offset int64) {
	f.mu.Lock()
	f.offsets[path] = offset
	f.mu.Unlock()
}

func (f *FileIngestor) flushOffsets() {
	if f.store == nil {
		return
	}
	f.mu.Lock()
	pending := f.offsets
	f.offsets = make(map[string]int64, len(pending))
	f.mu.Unlock()

	for path, offset := range pending {
		if err := f.store.Save(path, offset); err != nil {
			f.logger.Warningf("saving checkpoint failed: file=%s, error=%v", path, err)
		}
	}
}

// expand resolves the configured glob patterns minus exclusions.
func (f *FileIngestor) expand() ([]string, error) {
	var files []string
	for _, pattern := range f.cfg.Paths {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !f.isExcluded(m) {
				files = append(files, m)
			}
		}
	}
	return files, nil
}

// isExcluded checks if a file matches any exclude pattern.
func (f *FileIngestor) isExcluded(file string) bool {
	for _, pattern := range f.cfg.Exclude {
		if matched, _ := filepath.Match(pattern, filepath.Base(file)); matched {
			return true
		}
	}
	return false
}

// SourceFileName names a log file in the index: its base name without the
// final extension, so "/var/log/nginx/example.com.log" becomes "example.com".
func SourceFileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
