// Package plugin is the Plugin Runtime: a registry of in-process extensions,
// a hook dispatcher that folds enabled plugins over chat traffic, and a
// persisted per-plugin settings store.
//
// A plugin implements Plugin plus any of the optional hook interfaces
// below. Hooks run sequentially in registration order. A hook that errors
// or panics is logged and skipped; the rest of the chain still runs.
package plugin

import (
	"context"
	"fmt"

	"chatwrap/model"
)

// Hook names used in logs, metrics and HookError.
const (
	HookBeforeSend     = "beforeSendMessage"
	HookAfterReceive   = "afterReceiveMessage"
	HookMessageEdit    = "onMessageEdit"
	HookThreadCreate   = "onThreadCreate"
	HookSettingsChange = "onSettingsChange"
)

// Context is the read-only view of conversation state handed to hooks.
type Context struct {
	Messages       []model.Message
	Settings       model.Settings
	ActiveThreadID string
	SessionID      string
}

// Plugin is the only required interface.
type Plugin interface {
	Manifest() Manifest
}

// Lifecycle hooks. Each is optional.
type (
	Installer interface {
		Install(ctx context.Context) error
	}
	Uninstaller interface {
		Uninstall(ctx context.Context) error
	}
	Enabler interface {
		Enable(ctx context.Context) error
	}
	Disabler interface {
		Disable(ctx context.Context) error
	}
	// Configurable receives the validated settings bag on registration and
	// after every update.
	Configurable interface {
		Configure(settings Settings)
	}
)

// Traffic hooks. Each is optional.
type (
	// BeforeSendHook may rewrite outbound content. ok=false means no change.
	BeforeSendHook interface {
		BeforeSendMessage(ctx context.Context, content string, pc Context) (out string, ok bool, err error)
	}
	// AfterReceiveHook may rewrite the assistant message and attach metadata.
	AfterReceiveHook interface {
		AfterReceiveMessage(ctx context.Context, msg model.Message, pc Context) (model.Message, error)
	}
	MessageEditHook interface {
		OnMessageEdit(ctx context.Context, messageID, newContent string, pc Context) error
	}
	ThreadCreateHook interface {
		OnThreadCreate(ctx context.Context, threadID string, pc Context) error
	}
	SettingsChangeHook interface {
		OnSettingsChange(ctx context.Context, patch model.SettingsPatch, pc Context) error
	}
)

// HookError is one plugin's hook failure. It is logged at the dispatch
// boundary and never returned to callers of the Execute methods.
type HookError struct {
	PluginID string
	Hook     string
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s %s hook failed: %v", e.PluginID, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
