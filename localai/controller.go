package localai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/chatkit/notify"
)

// LocalAIChatState is the payload published on chat/RAG toggle changes.
type LocalAIChatState struct {
	ChatEnabled bool   `json:"chat_enabled"`
	RAGEnabled  bool   `json:"rag_enabled"`
	PluginState State  `json:"plugin_state"`
	Reason      string `json:"reason,omitempty"`
}

// DownloadResult is the payload published when a download task finishes.
type DownloadResult struct {
	TaskID  string        `json:"task_id"`
	ModelID string        `json:"model_id"`
	State   DownloadState `json:"state"`
	Reason  string        `json:"reason,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the notifier used to announce state changes.
func WithNotifier(n *notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithFetcher sets the artifact fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *Controller) { c.fetch = f }
}

// WithManifestSource sets where the available-model manifest comes from.
func WithManifestSource(ms ManifestSource) Option {
	return func(c *Controller) { c.manifest = ms }
}

// WithPluginRunner sets the plugin process manager.
func WithPluginRunner(p PluginRunner) Option {
	return func(c *Controller) { c.plugin = p }
}

// Controller governs the local model plugin lifecycle. It is the sole
// mutator of the plugin state and the selected model; everything else
// only reads them.
type Controller struct {
	cfg      Config
	notifier *notify.Notifier
	manifest ManifestSource
	fetch    Fetcher
	plugin   PluginRunner

	downloads *DownloadManager

	mu          sync.Mutex
	state       State
	stateReason string
	enabled     bool
	chatEnabled bool
	ragEnabled  bool
	selected    *ModelInfo // last known good installed model
	pending     *ModelInfo // model being downloaded
	installed   map[string]ModelInfo
	available   []ModelInfo
	watcher     *fsnotify.Watcher
	closed      bool
}

// NewController creates a controller over the given configuration.
// The model storage directory is created if absent.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local AI config: %w", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create model storage: %w", err)
	}

	c := &Controller{
		cfg:       cfg,
		state:     StateUninitialized,
		installed: make(map[string]ModelInfo),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.manifest == nil {
		c.manifest = manifestSourceFor(cfg)
	}
	if c.fetch == nil {
		c.fetch = httpFetcher{client: http.DefaultClient}
	}
	if c.plugin == nil {
		c.plugin = NewPlugin(cfg)
	}
	c.downloads = newDownloadManager(cfg.StorageDir, cfg.DownloadChunkSize, c.fetch, c.onDownloadDone)

	c.scanInstalled()
	if err := c.watchStorage(); err != nil {
		slog.Warn("model storage watch unavailable", slog.Any("error", err))
	}

	return c, nil
}

// Close tears the controller down: stops watching, cancels any download,
// and stops the plugin.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	c.downloads.Cancel()
	return c.plugin.Stop()
}

func (c *Controller) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// State returns the current plugin state and, for the error state, the
// failure reason.
func (c *Controller) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.stateReason
}

// IsRunning reports whether the plugin is serving.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning
}

// IsEnabled reports whether local AI is switched on.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsChatEnabled reports whether local AI chat is switched on.
func (c *Controller) IsChatEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatEnabled
}

// IsRAGEnabled reports whether file-based retrieval is switched on.
func (c *Controller) IsRAGEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ragEnabled
}

// CurrentModel returns the selected model, if any.
func (c *Controller) CurrentModel() (ModelInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return ModelInfo{}, false
	}
	return *c.selected, true
}

// InstalledModels returns the ids of model artifacts present in the
// storage directory, sorted.
func (c *Controller) InstalledModels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.installed))
	for id := range c.installed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectModel selects a local model. If the model is already installed
// the controller moves to the installed state immediately; otherwise the
// owned download task starts and the state becomes downloading, with
// progress announced through the notifier. A selection while a download
// is in flight fails with ErrOperationInProgress.
func (c *Controller) SelectModel(ctx context.Context, modelID string) (ModelSelection, error) {
	if err := c.guard(); err != nil {
		return ModelSelection{}, err
	}

	c.mu.Lock()
	if c.state == StateDownloading {
		c.mu.Unlock()
		return ModelSelection{}, ErrOperationInProgress
	}
	if m, ok := c.installed[modelID]; ok {
		m.Selected = true
		c.selected = &m
		c.state = StateInstalled
		c.stateReason = ""
		c.pending = nil
		sel := c.selectionLocked()
		c.mu.Unlock()
		return sel, nil
	}
	c.mu.Unlock()

	model, err := c.lookupModel(ctx, modelID)
	if err != nil {
		return ModelSelection{}, err
	}

	c.mu.Lock()
	if c.state == StateDownloading {
		c.mu.Unlock()
		return ModelSelection{}, ErrOperationInProgress
	}
	c.pending = &model
	c.state = StateDownloading
	c.stateReason = ""
	c.mu.Unlock()

	if _, err := c.downloads.Start(ctx, model, nil); err != nil {
		c.mu.Lock()
		c.pending = nil
		c.state = StateUninitialized
		if c.selected != nil {
			c.state = StateInstalled
		}
		c.mu.Unlock()
		return ModelSelection{}, err
	}

	c.mu.Lock()
	sel := c.selectionLocked()
	c.mu.Unlock()
	return sel, nil
}

// StartDownload starts downloading the pending model, pushing progress
// fractions into the given channel. Use after a failed or cancelled
// download to retry with a dedicated progress channel. Fails with
// ErrOperationInProgress while a task is already running.
func (c *Controller) StartDownload(ctx context.Context, progress chan<- float64) (string, error) {
	if err := c.guard(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return "", ErrNoModelSelected
	}
	model := *c.pending
	// Stamp before the task starts so a fast completion's state update is
	// never overwritten.
	prevState, prevReason := c.state, c.stateReason
	c.state = StateDownloading
	c.stateReason = ""
	c.mu.Unlock()

	taskID, err := c.downloads.Start(ctx, model, progress)
	if err != nil {
		c.mu.Lock()
		if c.state == StateDownloading {
			c.state, c.stateReason = prevState, prevReason
		}
		c.mu.Unlock()
		return "", err
	}

	return taskID, nil
}

// CancelDownload cancels the in-flight download, if any, and waits for
// the task to retire. Partial artifacts are deleted, not resumed.
func (c *Controller) CancelDownload() error {
	if err := c.guard(); err != nil {
		return err
	}
	c.downloads.Cancel()
	return nil
}

// onDownloadDone moves the state machine when the owned task finishes.
// The previously installed model, if any, is retained as a fallback on
// failure or cancellation.
func (c *Controller) onDownloadDone(task *DownloadTask, path string) {
	c.mu.Lock()
	switch task.State() {
	case DownloadCompleted:
		if c.pending != nil {
			model := *c.pending
			model.Path = path
			model.Selected = true
			c.installed[model.ID] = model
			c.selected = &model
			c.pending = nil
		}
		c.state = StateInstalled
		c.stateReason = ""
	case DownloadCancelled:
		c.state = StateError
		c.stateReason = "download cancelled"
	case DownloadFailed:
		c.state = StateError
		c.stateReason = task.FailReason()
	}
	c.mu.Unlock()

	c.publish(notify.KeyDownload, DownloadResult{
		TaskID:  task.ID(),
		ModelID: task.ModelID(),
		State:   task.State(),
		Reason:  task.FailReason(),
	})
}

// RefreshModelInfo fetches the available-model manifest. When the fetch
// fails and a model is already selected, the last known good model is
// returned instead of the error, so a transient refresh failure never
// strands the caller without a usable model.
func (c *Controller) RefreshModelInfo(ctx context.Context) (ModelSelection, error) {
	if err := c.guard(); err != nil {
		return ModelSelection{}, err
	}

	fallback := func(err error) (ModelSelection, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.selected != nil {
			slog.Warn("model info refresh failed, using last known model",
				slog.String("model", c.selected.ID),
				slog.Any("error", err))
			return ModelSelection{Selected: *c.selected, Models: []ModelInfo{*c.selected}}, nil
		}
		return ModelSelection{}, err
	}

	data, err := c.manifest.Fetch(ctx)
	if err != nil {
		return fallback(err)
	}
	models, err := ParseManifest(data)
	if err != nil {
		return fallback(err)
	}

	c.mu.Lock()
	c.available = models
	sel := c.selectionLocked()
	c.mu.Unlock()
	return sel, nil
}

// lookupModel resolves a model id against the manifest, refreshing it if
// not yet loaded.
func (c *Controller) lookupModel(ctx context.Context, modelID string) (ModelInfo, error) {
	c.mu.Lock()
	models := c.available
	c.mu.Unlock()

	if len(models) == 0 {
		data, err := c.manifest.Fetch(ctx)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("%w: %s (manifest unavailable: %v)", ErrUnknownModel, modelID, err)
		}
		models, err = ParseManifest(data)
		if err != nil {
			return ModelInfo{}, err
		}
		c.mu.Lock()
		c.available = models
		c.mu.Unlock()
	}

	for _, m := range models {
		if m.ID == modelID {
			return m, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
}

// selectionLocked builds the model selection view. Caller holds c.mu.
func (c *Controller) selectionLocked() ModelSelection {
	sel := ModelSelection{}
	if c.selected != nil {
		sel.Selected = *c.selected
	} else if c.pending != nil {
		sel.Selected = *c.pending
	}
	sel.Models = make([]ModelInfo, len(c.available))
	for i, m := range c.available {
		m.Selected = m.ID == sel.Selected.ID
		if inst, ok := c.installed[m.ID]; ok {
			m.Path = inst.Path
		}
		sel.Models[i] = m
	}
	return sel
}

// ToggleLocalAI flips the local AI master switch and returns the new
// value. Disabling stops a running plugin; re-enabling starts it again.
func (c *Controller) ToggleLocalAI(ctx context.Context) (bool, error) {
	if err := c.guard(); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.enabled = !c.enabled
	enabled := c.enabled
	state := c.state
	c.mu.Unlock()

	var err error
	if enabled {
		if state == StateStopped || state == StateInstalled {
			err = c.startPlugin(ctx)
		}
	} else if state == StateRunning {
		c.stopPlugin()
	}

	c.publish(notify.KeyLocalAIState, enabled)
	return enabled, err
}

// ToggleChat flips the local-AI-chat switch and returns the new value.
// Independent of the RAG switch and of plugin run state.
func (c *Controller) ToggleChat(ctx context.Context) (bool, error) {
	if err := c.guard(); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.chatEnabled = !c.chatEnabled
	payload := LocalAIChatState{
		ChatEnabled: c.chatEnabled,
		RAGEnabled:  c.ragEnabled,
		PluginState: c.state,
		Reason:      c.stateReason,
	}
	c.mu.Unlock()

	c.publish(notify.KeyLocalAIChat, payload)
	return payload.ChatEnabled, nil
}

// ToggleRAG flips the file-retrieval switch and returns the new value.
// Independent of the chat switch: disabling file retrieval does not stop
// the chat plugin.
func (c *Controller) ToggleRAG(ctx context.Context) (bool, error) {
	if err := c.guard(); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.ragEnabled = !c.ragEnabled
	payload := LocalAIChatState{
		ChatEnabled: c.chatEnabled,
		RAGEnabled:  c.ragEnabled,
		PluginState: c.state,
		Reason:      c.stateReason,
	}
	c.mu.Unlock()

	c.publish(notify.KeyLocalAIChat, payload)
	return payload.RAGEnabled, nil
}

// RestartPlugin restarts the model runtime. Requires a selected model.
func (c *Controller) RestartPlugin(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoModelSelected
	}
	modelPath := c.selected.Path
	c.mu.Unlock()

	if err := c.plugin.Restart(ctx, modelPath); err != nil {
		c.setError(err)
		return err
	}

	c.mu.Lock()
	c.state = StateRunning
	c.stateReason = ""
	c.mu.Unlock()
	return nil
}

// startPlugin starts the runtime and moves to the running state.
func (c *Controller) startPlugin(ctx context.Context) error {
	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoModelSelected
	}
	modelPath := c.selected.Path
	c.mu.Unlock()

	if err := c.plugin.Start(ctx, modelPath); err != nil {
		c.setError(err)
		return err
	}

	c.mu.Lock()
	c.state = StateRunning
	c.stateReason = ""
	c.mu.Unlock()
	return nil
}

// stopPlugin stops the runtime and moves to the stopped state.
func (c *Controller) stopPlugin() {
	if err := c.plugin.Stop(); err != nil {
		slog.Warn("stop plugin failed", slog.Any("error", err))
	}
	c.mu.Lock()
	c.state = StateStopped
	c.stateReason = ""
	c.mu.Unlock()
}

// setError moves to the error state, keeping the selected model as a
// fallback.
func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.stateReason = err.Error()
	c.mu.Unlock()
}

// ModelStorageDir returns the model storage directory. Pure query; fails
// with ErrStorageUnavailable if the directory is missing.
func (c *Controller) ModelStorageDir() (string, error) {
	if _, err := os.Stat(c.cfg.StorageDir); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return c.cfg.StorageDir, nil
}

// OfflineAppDownloadLink returns the configured offline AI app link.
// Pure query.
func (c *Controller) OfflineAppDownloadLink() string {
	return c.cfg.OfflineAppLink
}

// watchStorage starts watching the storage directory and refreshes the
// installed-model set as artifacts appear or disappear. Started by
// NewController; stops when the controller closes.
func (c *Controller) watchStorage() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch model storage: %w", err)
	}
	if err := watcher.Add(c.cfg.StorageDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch model storage: %w", err)
	}

	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		_ = watcher.Close()
		return nil
	}
	c.watcher = watcher
	c.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.scanInstalled()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("model storage watch error", slog.Any("error", err))
			}
		}
	}()

	return nil
}

// scanInstalled rebuilds the installed-model set from the storage dir.
func (c *Controller) scanInstalled() {
	entries, err := os.ReadDir(c.cfg.StorageDir)
	if err != nil {
		slog.Warn("scan model storage failed", slog.Any("error", err))
		return
	}

	found := make(map[string]ModelInfo, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found[entry.Name()] = ModelInfo{
			ID:   entry.Name(),
			Name: entry.Name(),
			Path: c.cfg.StorageDir + string(os.PathSeparator) + entry.Name(),
			Size: info.Size(),
		}
	}

	c.mu.Lock()
	for id, m := range found {
		if existing, ok := c.installed[id]; ok {
			m.Name = existing.Name
			m.URL = existing.URL
			m.Selected = existing.Selected
		}
		c.installed[id] = m
	}
	for id := range c.installed {
		if _, ok := found[id]; !ok {
			delete(c.installed, id)
		}
	}
	c.mu.Unlock()
}

// publish sends a notification if a notifier is configured.
func (c *Controller) publish(key string, payload any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(notify.Event{Key: key, Payload: payload})
}
