package gitsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"mdsync/internal/credstore"
)

var msgTime = time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)

func changesOf(kinds ...ChangeKind) []FileChange {
	names := []string{"a.md", "b.md", "c.md", "d.md"}
	out := make([]FileChange, len(kinds))
	for i, k := range kinds {
		out[i] = FileChange{Path: "notes/" + names[i], Name: names[i], Kind: k}
	}
	return out
}

func TestSmartMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		changes []FileChange
		want    string
	}{
		{name: "no changes", changes: nil, want: "sync: 2024-01-15 10:30"},
		{name: "one added", changes: changesOf(ChangeAdded), want: "Add a.md"},
		{name: "one deleted", changes: changesOf(ChangeDeleted), want: "Delete a.md"},
		{name: "one modified", changes: changesOf(ChangeModified), want: "Update a.md"},
		{name: "three files", changes: changesOf(ChangeAdded, ChangeModified, ChangeDeleted), want: "Update a.md, b.md, c.md"},
		{name: "bulk", changes: changesOf(ChangeAdded, ChangeAdded, ChangeAdded, ChangeAdded), want: "vault backup: 2024-01-15 10:30 (4 files)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SmartMessage(tt.changes, msgTime); got != tt.want {
				t.Errorf("SmartMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSmartMessage_UsesUTC(t *testing.T) {
	t.Parallel()
	local := msgTime.In(time.FixedZone("UTC+5", 5*60*60))
	if got := SmartMessage(nil, local); got != "sync: 2024-01-15 10:30" {
		t.Errorf("SmartMessage() = %q", got)
	}
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	changes := changesOf(ChangeAdded, ChangeModified)
	tests := []struct {
		name      string
		template  string
		vaultName string
		want      string
	}{
		{name: "all placeholders", template: "{{vault}}: {{count}} files ({{files}}) at {{date}}", vaultName: "notes", want: "notes: 2 files (a.md, b.md) at 2024-01-15 10:30"},
		{name: "repeated placeholder", template: "{{count}}/{{count}}", vaultName: "notes", want: "2/2"},
		{name: "empty template", template: "", vaultName: "notes", want: "vault backup: 2024-01-15 10:30"},
		{name: "empty vault name", template: "{{vault}}", vaultName: "", want: "vault"},
		{name: "unknown placeholder kept", template: "{{author}}", vaultName: "notes", want: "{{author}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderTemplate(tt.template, changes, tt.vaultName, msgTime); got != tt.want {
				t.Errorf("RenderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

type stubGenerator struct {
	msg string
	err error
}

func (g stubGenerator) GenerateCommitMessage(context.Context, []FileChange) (string, error) {
	return g.msg, g.err
}

func TestEngine_CommitMessage(t *testing.T) {
	t.Parallel()

	changes := changesOf(ChangeAdded)
	settings := func(style credstore.CommitMessageStyle) credstore.SyncSettings {
		s := credstore.DefaultSyncSettings()
		s.CommitMessageStyle = style
		s.CommitMessageTemplate = "{{vault}} backup"
		return s
	}

	tests := []struct {
		name  string
		style credstore.CommitMessageStyle
		gen   MessageGenerator
		want  string
	}{
		{name: "smart", style: credstore.StyleSmart, want: "Add a.md"},
		{name: "timestamp", style: credstore.StyleTimestamp, want: "vault backup: 2024-01-15 10:30"},
		{name: "custom", style: credstore.StyleCustom, want: "notes backup"},
		{name: "ai", style: credstore.StyleAI, gen: stubGenerator{msg: "  Add meeting notes\n"}, want: "Add meeting notes"},
		{name: "ai without generator", style: credstore.StyleAI, want: "Add a.md"},
		{name: "ai failure", style: credstore.StyleAI, gen: stubGenerator{err: errors.New("quota exceeded")}, want: "Add a.md"},
		{name: "ai blank answer", style: credstore.StyleAI, gen: stubGenerator{msg: "   "}, want: "Add a.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, Options{Messages: tt.gen})
			got := env.engine.CommitMessage(context.Background(), changes, settings(tt.style), "notes")
			if got != tt.want {
				t.Errorf("CommitMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
