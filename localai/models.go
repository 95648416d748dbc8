package localai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelInfo describes one local model.
type ModelInfo struct {
	// ID is the model identifier, also its artifact file name.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable model name.
	Name string `yaml:"name" json:"name"`

	// URL is where the model artifact is downloaded from.
	URL string `yaml:"url" json:"url,omitempty"`

	// Path is the artifact location on disk, set once installed.
	Path string `yaml:"-" json:"path,omitempty"`

	// Size is the artifact size in bytes.
	Size int64 `yaml:"size" json:"size"`

	// Selected marks the currently selected model. At most one model is
	// selected at a time.
	Selected bool `yaml:"-" json:"selected"`
}

// ModelSelection is the selected model plus everything available.
type ModelSelection struct {
	Selected ModelInfo   `json:"selected"`
	Models   []ModelInfo `json:"models"`
}

// manifestDoc is the YAML shape of the available-model manifest.
type manifestDoc struct {
	Models []ModelInfo `yaml:"models"`
}

// ParseManifest parses a models.yaml manifest.
func ParseManifest(data []byte) ([]ModelInfo, error) {
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse model manifest: %w", err)
	}
	for i, m := range doc.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("parse model manifest: model %d has no id", i)
		}
	}
	return doc.Models, nil
}

// ManifestSource fetches the raw available-model manifest.
type ManifestSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// fileManifest reads the manifest from disk.
type fileManifest struct {
	path string
}

func (f fileManifest) Fetch(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}
	return data, nil
}

// httpManifest fetches the manifest from a URL.
type httpManifest struct {
	url    string
	client *http.Client
}

func (h httpManifest) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch model manifest: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch model manifest: unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// manifestSourceFor picks the manifest source from configuration.
func manifestSourceFor(cfg Config) ManifestSource {
	if cfg.ManifestURL != "" {
		return httpManifest{url: cfg.ManifestURL, client: http.DefaultClient}
	}
	return fileManifest{path: cfg.manifestPath()}
}

// isArtifact filters storage directory entries down to model artifacts.
func isArtifact(name string) bool {
	if strings.HasSuffix(name, ".part") {
		return false
	}
	if name == "models.yaml" {
		return false
	}
	return true
}
