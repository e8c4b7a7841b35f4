package tls

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// ErrWatcherClosed is returned when starting a closed watcher.
var ErrWatcherClosed = errors.New("certificate watcher closed")

// CertificateEventType represents the type of certificate event.
type CertificateEventType int

// Certificate event type constants.
const (
	// CertificateEventChanged indicates that a watched file was written or replaced.
	CertificateEventChanged CertificateEventType = iota

	// CertificateEventError indicates a file watcher failure.
	CertificateEventError
)

// String returns the string representation of the event type.
func (t CertificateEventType) String() string {
	switch t {
	case CertificateEventChanged:
		return "changed"
	case CertificateEventError:
		return "error"
	default:
		return "unknown"
	}
}

// CertificateEvent is emitted by CertificateWatcher.
type CertificateEvent struct {
	// Type is the type of event.
	Type CertificateEventType

	// Paths lists the watched files that changed within the debounce window.
	Paths []string

	// Error is set for CertificateEventError.
	Error error
}

// CertificateWatcher reports changes to certificate, key and CA files so a
// client can rebuild its connection configuration. TLS contexts are
// immutable once realized; reloading means building a new one.
type CertificateWatcher struct {
	paths   map[string]struct{}
	logger  observability.Logger
	metrics MetricsRecorder

	watcher   *fsnotify.Watcher
	eventCh   chan CertificateEvent
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	debounceDelay time.Duration
}

// WatcherOption is a functional option for configuring CertificateWatcher.
type WatcherOption func(*CertificateWatcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger observability.Logger) WatcherOption {
	return func(w *CertificateWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatcherMetrics sets the metrics recorder for the watcher.
func WithWatcherMetrics(metrics MetricsRecorder) WatcherOption {
	return func(w *CertificateWatcher) {
		if metrics != nil {
			w.metrics = metrics
		}
	}
}

// WithDebounceDelay sets the debounce delay for file change events.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *CertificateWatcher) {
		w.debounceDelay = delay
	}
}

// NewCertificateWatcher creates a watcher for the given files.
func NewCertificateWatcher(paths []string, opts ...WatcherOption) (*CertificateWatcher, error) {
	if len(paths) == 0 {
		return nil, kindError(ErrConfig, NewConfigurationError("paths", "at least one file to watch is required"))
	}

	w := &CertificateWatcher{
		paths:         make(map[string]struct{}, len(paths)),
		logger:        observability.NopLogger(),
		metrics:       NewNopMetrics(),
		eventCh:       make(chan CertificateEvent, 10),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range paths {
		w.paths[filepath.Clean(p)] = struct{}{}
	}

	return w, nil
}

// Start begins watching. The directories containing the files are watched
// so atomic replace-by-rename is observed.
func (w *CertificateWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return kindError(ErrConfig, NewConfigurationErrorWithCause("watcher", "failed to create file watcher", err))
	}

	dirs := make(map[string]struct{})
	for p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return kindError(ErrConfig, NewCertificateErrorWithCause(dir, "failed to watch directory", err))
		}
		w.logger.Info("watching certificate directory", observability.String("path", dir))
	}

	w.watcher = watcher
	w.started = true
	go w.watchLoop(ctx)

	return nil
}

// Events returns the channel that receives certificate events.
func (w *CertificateWatcher) Events() <-chan CertificateEvent {
	return w.eventCh
}

// Close stops the watcher and releases resources.
func (w *CertificateWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	close(w.stopCh)
	if started {
		<-w.stoppedCh
	}

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	close(w.eventCh)

	return err
}

func (w *CertificateWatcher) watchLoop(ctx context.Context) {
	defer close(w.stoppedCh)

	var (
		debounceTimer *time.Timer
		debounceCh    <-chan time.Time
		pending       []string
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("certificate watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("certificate watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)
			if !w.isRelevant(path, event.Op) {
				continue
			}
			w.logger.Debug("certificate file changed",
				observability.String("path", path),
				observability.String("op", event.Op.String()),
			)
			if !containsPath(pending, path) {
				pending = append(pending, path)
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			w.metrics.RecordCertificateReload(true)
			w.sendEvent(CertificateEvent{Type: CertificateEventChanged, Paths: pending})
			pending = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", observability.Error(err))
			w.metrics.RecordCertificateReload(false)
			w.sendEvent(CertificateEvent{Type: CertificateEventError, Error: err})
		}
	}
}

func (w *CertificateWatcher) isRelevant(path string, op fsnotify.Op) bool {
	if _, ok := w.paths[path]; !ok {
		return false
	}
	return op&(fsnotify.Write|fsnotify.Create) != 0
}

func (w *CertificateWatcher) sendEvent(event CertificateEvent) {
	select {
	case w.eventCh <- event:
	default:
		w.logger.Warn("certificate event channel full, dropping event",
			observability.String("type", event.Type.String()),
		)
	}
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
