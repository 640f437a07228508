package dispatch

import (
	"context"

	"github.com/akatsuki/bancho/internal/model"
)

// CommandHook lets an external command processor (e.g. a "!" bot prefix)
// intercept chat messages before they are broadcast, per spec.md §4.14.
// A nil Dispatcher.hook means every message is broadcast normally.
type CommandHook interface {
	IsCommandMessage(text string) bool
	Handle(ctx context.Context, session *model.Session, target string, text string) (reply string, suppress bool)
}

// NopCommands is the default CommandHook: nothing is ever treated as a
// command, so every chat message reaches its channel or recipient.
type NopCommands struct{}

func (NopCommands) IsCommandMessage(text string) bool { return false }

func (NopCommands) Handle(ctx context.Context, session *model.Session, target string, text string) (string, bool) {
	return "", false
}
