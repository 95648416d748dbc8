package chat

import (
	"github.com/randalmurphal/chatkit/provider"
)

// LoaderType tags raw attachment metadata by how its content is loaded.
// The tag arrives from the caller and may name loaders this version does
// not know about.
type LoaderType string

// Known loader types.
const (
	LoaderText     LoaderType = "txt"
	LoaderMarkdown LoaderType = "md"
	LoaderPDF      LoaderType = "pdf"
)

// RAGMetadata is a raw, caller-supplied source material record attached to
// a chat message. NormalizeRAGMetadata converts it into the typed context
// record sent to the backend.
type RAGMetadata struct {
	// ID identifies the source document.
	ID string `json:"id"`

	// Name is the display name of the source.
	Name string `json:"name"`

	// Source describes where the content came from.
	Source string `json:"source,omitempty"`

	// Data is the raw content (text for txt/md; opaque for pdf/unknown).
	Data string `json:"data"`

	// Loader tags how Data should be interpreted.
	Loader LoaderType `json:"loader_type"`
}

// NormalizeRAGMetadata converts a raw metadata record into a normalized
// context entry. Text and markdown entries derive size from content
// length. PDF and unrecognized loader types report size zero: extraction
// is deferred, and deferral is never an error. Unknown tags map to
// ContextUnknown to stay forward compatible with new source kinds.
//
// Pure: no side effects, no file system access.
func NormalizeRAGMetadata(md RAGMetadata) provider.ContextData {
	entry := provider.ContextData{
		ID:      md.ID,
		Name:    md.Name,
		Source:  md.Source,
		Content: md.Data,
	}

	switch md.Loader {
	case LoaderText:
		entry.ContentType = provider.ContextText
		entry.Size = int64(len(md.Data))
	case LoaderMarkdown:
		entry.ContentType = provider.ContextMarkdown
		entry.Size = int64(len(md.Data))
	case LoaderPDF:
		entry.ContentType = provider.ContextPDF
		entry.Size = 0
	default:
		entry.ContentType = provider.ContextUnknown
		entry.Size = 0
	}

	return entry
}

// NormalizeRAGMetadataList normalizes a batch of metadata records,
// preserving order.
func NormalizeRAGMetadataList(mds []RAGMetadata) []provider.ContextData {
	if len(mds) == 0 {
		return nil
	}
	entries := make([]provider.ContextData, len(mds))
	for i, md := range mds {
		entries[i] = NormalizeRAGMetadata(md)
	}
	return entries
}
