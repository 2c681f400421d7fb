package telephony

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jbctechsolutions/leadline/internal/domain/call"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
)

// SpoolConfig configures a SpoolSource.
type SpoolConfig struct {
	Path string
	// FromStart replays lines already in the file. By default only lines
	// appended after Start are read.
	FromStart  bool
	BufferSize int
}

// SpoolSource tails a spool file with fsnotify. The parent directory is
// watched so the file may be created, truncated or replaced while running.
type SpoolSource struct {
	cfg       SpoolConfig
	logger    *logging.Logger
	fsWatcher *fsnotify.Watcher
	events    chan call.Event
	errors    chan error

	offset  int64
	partial []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewSpoolSource creates a source for cfg.Path. Call Start to begin tailing.
func NewSpoolSource(cfg SpoolConfig, logger *logging.Logger) (*SpoolSource, error) {
	if cfg.Path == "" {
		return nil, errors.New("spool path is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if logger == nil {
		logger = logging.Nop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SpoolSource{
		cfg:       cfg,
		logger:    logger,
		fsWatcher: fsWatcher,
		events:    make(chan call.Event, cfg.BufferSize),
		errors:    make(chan error, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins watching. The spool directory is created if missing.
func (s *SpoolSource) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if !s.cfg.FromStart {
		if info, err := os.Stat(s.cfg.Path); err == nil {
			s.offset = info.Size()
		}
	}
	if err := s.fsWatcher.Add(dir); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.processEvents()
	return nil
}

// Events returns the channel of parsed call events.
func (s *SpoolSource) Events() <-chan call.Event {
	return s.events
}

// Errors returns the channel of watch and read errors.
func (s *SpoolSource) Errors() <-chan error {
	return s.errors
}

// Close stops tailing and closes both channels.
func (s *SpoolSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.fsWatcher.Close()
	s.wg.Wait()

	close(s.events)
	close(s.errors)
	return err
}

func (s *SpoolSource) processEvents() {
	defer s.wg.Done()

	// Lines written before the watch was registered. Sending may block until
	// a consumer runs, so this stays off the Start path.
	s.readNew()

	target := filepath.Clean(s.cfg.Path)
	for {
		select {
		case <-s.ctx.Done():
			return

		case ev, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				s.offset = 0
				s.partial = nil
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				s.readNew()
			}

		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			s.reportError(err)
		}
	}
}

// readNew reads from the saved offset to EOF and emits every complete line.
// Only the processEvents goroutine calls it.
func (s *SpoolSource) readNew() {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.reportError(err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.reportError(err)
		return
	}
	if info.Size() < s.offset {
		s.logger.Debug("spool truncated, rereading", "path", s.cfg.Path)
		s.offset = 0
		s.partial = nil
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		s.reportError(err)
		return
	}

	r := bufio.NewReader(f)
	for {
		chunk, err := r.ReadBytes('\n')
		s.offset += int64(len(chunk))
		if err != nil {
			// Keep an unterminated tail for the next write.
			s.partial = append(s.partial, chunk...)
			if err != io.EOF {
				s.reportError(err)
			}
			return
		}
		line := string(append(s.partial, chunk...))
		s.partial = nil

		ev, ok := ParseLine(line, time.Now())
		if !ok {
			s.logger.Debug("skipping spool line", "line", line)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *SpoolSource) reportError(err error) {
	select {
	case s.errors <- err:
	default:
		s.logger.Warn("spool error dropped", "error", err.Error())
	}
}
