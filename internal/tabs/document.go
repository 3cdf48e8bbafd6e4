// Package tabs holds the editor's open documents and their persisted form.
package tabs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

// StorageKey is the key the document is stored under.
const StorageKey = "markdown-mermaid-editor-data"

const (
	MinFontSize     = 10
	MaxFontSize     = 24
	DefaultFontSize = 14
)

// ErrInvalidDocument marks stored data that does not have the document shape.
var ErrInvalidDocument = errors.New("invalid tabs document")

// Tab is one open document. CreatedAt is Unix milliseconds.
type Tab struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	FolderID  string `json:"folderId,omitempty"`
	FilePath  string `json:"filePath,omitempty"`
}

// Folder groups tabs. An empty ParentID is the root.
type Folder struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ParentID  string `json:"parentId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	Expanded  bool   `json:"expanded"`
}

// Document is the stored and cloud-synced form of the editor state.
type Document struct {
	Tabs        []Tab    `json:"tabs"`
	Folders     []Folder `json:"folders,omitempty"`
	ActiveTabID string   `json:"activeTabId"`
	FontSize    int      `json:"fontSize"`
	ShowEditor  *bool    `json:"showEditor,omitempty"`
}

// ClampFontSize bounds size to [MinFontSize, MaxFontSize].
func ClampFontSize(size int) int {
	return max(MinFontSize, min(MaxFontSize, size))
}

// rawDocument distinguishes missing fields from zero values.
type rawDocument struct {
	Tabs        []Tab    `json:"tabs"`
	Folders     []Folder `json:"folders"`
	ActiveTabID *string  `json:"activeTabId"`
	FontSize    *float64 `json:"fontSize"`
	ShowEditor  *bool    `json:"showEditor"`
}

// Parse validates stored data and normalizes it: the font size is clamped
// and an unknown active tab falls back to the first tab. Data without a
// tabs array, without a numeric font size, or with no tabs at all is
// rejected with ErrInvalidDocument.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw.Tabs == nil {
		return nil, fmt.Errorf("%w: missing tabs", ErrInvalidDocument)
	}
	if raw.FontSize == nil {
		return nil, fmt.Errorf("%w: missing fontSize", ErrInvalidDocument)
	}
	if len(raw.Tabs) == 0 {
		return nil, fmt.Errorf("%w: no tabs", ErrInvalidDocument)
	}

	doc := &Document{
		Tabs:       raw.Tabs,
		Folders:    raw.Folders,
		FontSize:   int(math.Round(math.Max(MinFontSize, math.Min(MaxFontSize, *raw.FontSize)))),
		ShowEditor: raw.ShowEditor,
	}
	doc.ActiveTabID = doc.Tabs[0].ID
	if raw.ActiveTabID != nil && slices.ContainsFunc(doc.Tabs, func(t Tab) bool { return t.ID == *raw.ActiveTabID }) {
		doc.ActiveTabID = *raw.ActiveTabID
	}
	return doc, nil
}

// Marshal encodes the document in its stored form.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding tabs document: %w", err)
	}
	return data, nil
}
