package localai

import "errors"

// State is the lifecycle state of the local model plugin.
type State string

// Plugin lifecycle states.
const (
	// StateUninitialized means no model has been selected yet.
	StateUninitialized State = "uninitialized"

	// StateDownloading means a model download is in flight.
	StateDownloading State = "downloading"

	// StateInstalled means the selected model is present on disk.
	StateInstalled State = "installed"

	// StateRunning means the plugin process is serving.
	StateRunning State = "running"

	// StateStopped means the plugin was disabled after running.
	StateStopped State = "stopped"

	// StateError means an unrecoverable failure; leave only via
	// re-selection.
	StateError State = "error"
)

// Sentinel errors for local AI operations.
var (
	// ErrOperationInProgress indicates a conflicting operation (a download
	// or selection) is already running. Expected under contention; retry
	// after it completes or is cancelled.
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrUnknownModel indicates the model id is not in the manifest.
	ErrUnknownModel = errors.New("unknown model")

	// ErrNoModelSelected indicates an operation needs a selected model.
	ErrNoModelSelected = errors.New("no model selected")

	// ErrStorageUnavailable indicates the model storage directory is
	// missing or unreadable. Not retriable without remediation.
	ErrStorageUnavailable = errors.New("model storage unavailable")

	// ErrClosed indicates the controller has been torn down.
	ErrClosed = errors.New("local AI controller is closed")
)
