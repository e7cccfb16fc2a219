package crosstab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// signalTTL is how long a published signal file is kept before a later
// publish prunes it.
const signalTTL = time.Minute

const signalExt = ".json"

// FileTransport carries signals between processes on the same host
// through a directory. Each topic is a subdirectory; a publish renames a
// new envelope file into it and every watcher of that subdirectory reads
// it.
type FileTransport struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[*fsnotify.Watcher]struct{}
	closed   bool
}

// NewFileTransport uses dir, creating it when missing.
func NewFileTransport(dir string, logger *zap.Logger) (*FileTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating signal directory: %w", err)
	}
	return &FileTransport{
		dir:      dir,
		logger:   logger,
		watchers: make(map[*fsnotify.Watcher]struct{}),
	}, nil
}

func (t *FileTransport) topicDir(topic string) string {
	return filepath.Join(t.dir, strings.ReplaceAll(topic, ":", "-"))
}

// Publish writes env to a temporary file and renames it into the topic
// directory, so watchers never read a partial envelope.
func (t *FileTransport) Publish(_ context.Context, env Envelope) error {
	dir := t.topicDir(env.Topic)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating topic directory: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}

	tmp, err := os.CreateTemp(t.dir, ".signal-*")
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", env.Topic, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publishing to %s: %w", env.Topic, err)
	}

	name := fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.NewString(), signalExt)
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publishing to %s: %w", env.Topic, err)
	}

	t.prune(dir)
	return nil
}

// prune removes signal files older than signalTTL.
func (t *FileTransport) prune(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-signalTTL)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != signalExt {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.logger.Debug("pruning signal file", zap.String("file", e.Name()), zap.Error(err))
		}
	}
}

// Subscribe watches the topic directory. The watch is active when
// Subscribe returns.
func (t *FileTransport) Subscribe(_ context.Context, topic string) (<-chan Envelope, func(), error) {
	dir := t.topicDir(topic)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating topic directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = w.Close()
		return nil, nil, errors.New("file transport closed")
	}
	t.watchers[w] = struct{}{}
	t.mu.Unlock()

	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) || filepath.Ext(ev.Name) != signalExt {
					continue
				}
				env, err := readEnvelope(ev.Name)
				if err != nil {
					if !errors.Is(err, fs.ErrNotExist) {
						t.logger.Warn("reading cross-context signal",
							zap.String("file", ev.Name), zap.Error(err))
					}
					continue
				}
				if env.Topic == "" {
					env.Topic = topic
				}
				select {
				case out <- env:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				t.logger.Warn("watching signal directory", zap.String("topic", topic), zap.Error(err))
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, w)
			t.mu.Unlock()
			if err := w.Close(); err != nil {
				t.logger.Debug("closing signal watcher", zap.Error(err))
			}
		})
	}
	return out, unsubscribe, nil
}

func readEnvelope(path string) (Envelope, error) {
	var env Envelope
	data, err := os.ReadFile(path)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decoding signal: %w", err)
	}
	return env, nil
}

// Close ends every subscription. Signal files are left for pruning.
func (t *FileTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	watchers := t.watchers
	t.watchers = make(map[*fsnotify.Watcher]struct{})
	t.mu.Unlock()

	var errs []error
	for w := range watchers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
