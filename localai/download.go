package localai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DownloadState is the lifecycle state of a download task.
type DownloadState string

// Download task states.
const (
	DownloadQueued    DownloadState = "queued"
	DownloadRunning   DownloadState = "running"
	DownloadCompleted DownloadState = "completed"
	DownloadCancelled DownloadState = "cancelled"
	DownloadFailed    DownloadState = "failed"
)

// DownloadTask is one model download. At most one task is running at a
// time process-wide; starting a second fails rather than queuing.
type DownloadTask struct {
	id      string
	modelID string
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	state    DownloadState
	progress float64
	reason   string
}

// ID returns the task identifier.
func (t *DownloadTask) ID() string { return t.id }

// ModelID returns the model being downloaded.
func (t *DownloadTask) ModelID() string { return t.modelID }

// State returns the task state.
func (t *DownloadTask) State() DownloadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress returns the last reported progress fraction in [0, 1].
func (t *DownloadTask) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// FailReason returns the failure reason for a failed task.
func (t *DownloadTask) FailReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *DownloadTask) Done() <-chan struct{} { return t.done }

func (t *DownloadTask) setState(state DownloadState, reason string) {
	t.mu.Lock()
	t.state = state
	t.reason = reason
	t.mu.Unlock()
}

func (t *DownloadTask) setProgress(frac float64) {
	t.mu.Lock()
	if frac > t.progress {
		t.progress = frac
	}
	t.mu.Unlock()
}

// Fetcher opens a model artifact for reading. The default implementation
// issues an HTTP GET; tests substitute a stub.
type Fetcher interface {
	// Open returns the artifact reader and its total size in bytes, or -1
	// if the size is unknown.
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// httpFetcher implements Fetcher over HTTP.
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("open artifact: unexpected status %s", resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// DownloadManager runs at most one model download at a time.
type DownloadManager struct {
	dir    string
	chunk  int
	fetch  Fetcher
	onDone func(task *DownloadTask, path string)

	mu     sync.Mutex
	active *DownloadTask
}

func newDownloadManager(dir string, chunk int, fetch Fetcher, onDone func(*DownloadTask, string)) *DownloadManager {
	return &DownloadManager{dir: dir, chunk: chunk, fetch: fetch, onDone: onDone}
}

// Start begins downloading the model and returns the task id. Progress
// fractions are pushed into progress (monotonically non-decreasing,
// ending at exactly 1.0 on success); the channel is closed when the task
// reaches a terminal state. progress may be nil.
//
// Fails with ErrOperationInProgress while another task is active; the
// running task is unaffected.
func (d *DownloadManager) Start(ctx context.Context, model ModelInfo, progress chan<- float64) (string, error) {
	// Downloads outlive the request that started them; only an explicit
	// cancel stops the task.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	task := &DownloadTask{
		id:      uuid.NewString(),
		modelID: model.ID,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   DownloadQueued,
	}

	d.mu.Lock()
	if d.active != nil {
		d.mu.Unlock()
		cancel()
		return "", ErrOperationInProgress
	}
	d.active = task
	d.mu.Unlock()

	go d.run(taskCtx, task, model, progress)

	return task.id, nil
}

// Cancel signals cancellation of the active task, if any, and waits for
// it to retire. Partially written artifacts are deleted.
func (d *DownloadManager) Cancel() {
	d.mu.Lock()
	task := d.active
	d.mu.Unlock()

	if task == nil {
		return
	}
	task.cancel()
	<-task.done
}

// Active returns the in-flight task, or nil.
func (d *DownloadManager) Active() *DownloadTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// run fetches the artifact chunk by chunk, observing cancellation at each
// chunk boundary.
func (d *DownloadManager) run(ctx context.Context, task *DownloadTask, model ModelInfo, progress chan<- float64) {
	path := filepath.Join(d.dir, model.ID)
	part := path + ".part"

	var lastSent float64 = -1
	send := func(frac float64) bool {
		task.setProgress(frac)
		if progress == nil || frac <= lastSent {
			return true
		}
		select {
		case progress <- frac:
			lastSent = frac
			return true
		case <-ctx.Done():
			return false
		}
	}

	finish := func(state DownloadState, reason string, installedPath string) {
		if state != DownloadCompleted {
			if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
				slog.Warn("remove partial artifact failed",
					slog.String("model", model.ID),
					slog.Any("error", err))
			}
		}
		task.setState(state, reason)
		if progress != nil {
			close(progress)
		}

		d.mu.Lock()
		if d.active == task {
			d.active = nil
		}
		d.mu.Unlock()

		if d.onDone != nil {
			d.onDone(task, installedPath)
		}
		close(task.done)

		slog.Debug("download finished",
			slog.String("model", model.ID),
			slog.String("state", string(state)))
	}

	task.setState(DownloadRunning, "")

	src, total, err := d.fetch.Open(ctx, model.URL)
	if err != nil {
		if ctx.Err() != nil {
			finish(DownloadCancelled, "cancelled", "")
		} else {
			finish(DownloadFailed, err.Error(), "")
		}
		return
	}
	defer src.Close()

	dst, err := os.Create(part)
	if err != nil {
		finish(DownloadFailed, err.Error(), "")
		return
	}

	if total <= 0 {
		total = model.Size
	}

	buf := make([]byte, d.chunk)
	var written int64

	for {
		// I/O checkpoint: cancellation is observed here, between chunks.
		if ctx.Err() != nil {
			dst.Close()
			finish(DownloadCancelled, "cancelled", "")
			return
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				dst.Close()
				finish(DownloadFailed, werr.Error(), "")
				return
			}
			written += int64(n)
			if total > 0 && written < total {
				if !send(float64(written) / float64(total)) {
					dst.Close()
					finish(DownloadCancelled, "cancelled", "")
					return
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dst.Close()
			if ctx.Err() != nil {
				finish(DownloadCancelled, "cancelled", "")
			} else {
				finish(DownloadFailed, rerr.Error(), "")
			}
			return
		}
	}

	if err := dst.Close(); err != nil {
		finish(DownloadFailed, err.Error(), "")
		return
	}
	if err := os.Rename(part, path); err != nil {
		finish(DownloadFailed, err.Error(), "")
		return
	}

	send(1.0)
	finish(DownloadCompleted, "", path)
}
