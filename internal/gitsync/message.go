package gitsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mdsync/internal/credstore"
)

// MessageGenerator produces commit messages from a change list, typically
// by calling a language model.
type MessageGenerator interface {
	GenerateCommitMessage(ctx context.Context, changes []FileChange) (string, error)
}

const messageDateLayout = "2006-01-02 15:04"

// SmartMessage names the file for small changes and falls back to a dated
// bulk message.
func SmartMessage(changes []FileChange, now time.Time) string {
	date := now.UTC().Format(messageDateLayout)
	switch {
	case len(changes) == 0:
		return "sync: " + date
	case len(changes) == 1:
		action := "Update"
		switch changes[0].Kind {
		case ChangeAdded:
			action = "Add"
		case ChangeDeleted:
			action = "Delete"
		}
		return action + " " + changes[0].Name
	case len(changes) <= 3:
		return "Update " + joinNames(changes)
	default:
		return fmt.Sprintf("vault backup: %s (%d files)", date, len(changes))
	}
}

// RenderTemplate substitutes {{date}}, {{count}}, {{files}} and {{vault}}.
func RenderTemplate(template string, changes []FileChange, vaultName string, now time.Time) string {
	if template == "" {
		template = credstore.DefaultCommitTemplate
	}
	if vaultName == "" {
		vaultName = "vault"
	}
	r := strings.NewReplacer(
		"{{date}}", now.UTC().Format(messageDateLayout),
		"{{count}}", strconv.Itoa(len(changes)),
		"{{files}}", joinNames(changes),
		"{{vault}}", vaultName,
	)
	return r.Replace(template)
}

func joinNames(changes []FileChange) string {
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

// CommitMessage builds a message in the vault's configured style.
// The ai style falls back to the smart style when no generator is set or
// generation fails.
func (e *Engine) CommitMessage(ctx context.Context, changes []FileChange, settings credstore.SyncSettings, vaultName string) string {
	now := e.now()
	switch settings.CommitMessageStyle {
	case credstore.StyleSmart:
		return SmartMessage(changes, now)
	case credstore.StyleCustom:
		return RenderTemplate(settings.CommitMessageTemplate, changes, vaultName, now)
	case credstore.StyleAI:
		if e.opts.Messages != nil {
			msg, err := e.opts.Messages.GenerateCommitMessage(ctx, changes)
			if err == nil && strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
			if err != nil {
				e.logger.Warn("commit message generation failed", "error", err)
			}
		}
		return SmartMessage(changes, now)
	default:
		return "vault backup: " + now.UTC().Format(messageDateLayout)
	}
}
