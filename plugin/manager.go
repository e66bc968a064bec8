package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatwrap/metrics"
	"chatwrap/model"
	"chatwrap/storage"
)

// Storage keys owned by the plugin runtime.
const (
	SettingsKey = "plugins/settings"
	EnabledKey  = "plugins/enabled"
)

var ErrPluginNotFound = errors.New("plugin not found")

type entry struct {
	plugin   Plugin
	manifest Manifest
}

// Manager owns the registry, the enabled set and every plugin's settings.
// It is safe for concurrent use, and hooks may call back into it: dispatch
// works on a snapshot taken before any hook runs.
type Manager struct {
	// lifecycle serializes Register, Unregister, Enable and Disable so each
	// install, enable or disable hook runs at most once per transition.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	enabled  map[string]bool
	settings map[string]Settings
	// stored holds the last persisted settings map, including plugins that
	// are not registered in this process.
	stored map[string]map[string]any

	kv      storage.KV
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log.With().Str("component", "plugins").Logger() }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a runtime persisting to kv. A nil kv keeps settings in
// memory only.
func NewManager(kv storage.KV, opts ...Option) *Manager {
	m := &Manager{
		entries:  make(map[string]*entry),
		enabled:  make(map[string]bool),
		settings: make(map[string]Settings),
		stored:   make(map[string]map[string]any),
		kv:       kv,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads persisted plugin settings. Plugins registered afterwards start
// from their stored values; call it before Register.
func (m *Manager) Load(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}

	var stored map[string]map[string]any
	err := storage.GetJSON(ctx, m.kv, SettingsKey, &stored)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.metrics.RecordPersistenceFailure("load")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, raw := range stored {
		m.stored[id] = raw
	}
	return nil
}

// Register installs p. Registering an id that is already present is a
// no-op. An install failure aborts registration and is returned.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	manifest := p.Manifest()
	if err := manifest.Validate(); err != nil {
		return err
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	_, exists := m.entries[manifest.ID]
	raw := m.stored[manifest.ID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	if inst, ok := p.(Installer); ok {
		if err := inst.Install(ctx); err != nil {
			m.log.Error().Err(err).Str("plugin", manifest.ID).Msg("Plugin install failed")
			return fmt.Errorf("install %s: %w", manifest.ID, err)
		}
	}

	settings, problems := manifest.Normalize(raw)
	for _, perr := range problems {
		m.log.Warn().Err(perr).Str("plugin", manifest.ID).Msg("Discarding stored plugin setting")
	}
	if c, ok := p.(Configurable); ok {
		c.Configure(settings.Clone())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[manifest.ID] = &entry{plugin: p, manifest: manifest}
	m.order = append(m.order, manifest.ID)
	m.settings[manifest.ID] = settings

	m.log.Info().Str("plugin", manifest.ID).Str("version", manifest.Version).Msg("Plugin registered")
	return nil
}

// Unregister disables, uninstalls and removes a plugin. Unknown ids are a
// no-op. Its stored settings are kept.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	e := m.lookup(id)
	if e == nil {
		return nil
	}
	if err := m.disable(ctx, id); err != nil {
		return err
	}
	if u, ok := e.plugin.(Uninstaller); ok {
		if err := u.Uninstall(ctx); err != nil {
			return fmt.Errorf("uninstall %s: %w", id, err)
		}
	}

	m.mu.Lock()
	delete(m.entries, id)
	delete(m.settings, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.log.Info().Str("plugin", id).Msg("Plugin unregistered")
	return nil
}

// Enable adds id to the enabled set after its enable hook succeeds.
// Enabling an enabled plugin is a no-op.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	e := m.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if m.IsEnabled(id) {
		return nil
	}

	if en, ok := e.plugin.(Enabler); ok {
		if err := en.Enable(ctx); err != nil {
			m.log.Error().Err(err).Str("plugin", id).Msg("Plugin enable failed")
			return fmt.Errorf("enable %s: %w", id, err)
		}
	}

	m.mu.Lock()
	m.enabled[id] = true
	m.mu.Unlock()

	m.log.Info().Str("plugin", id).Msg("Plugin enabled")
	m.persistEnabled(ctx)
	return nil
}

// Disable removes id from the enabled set. Unknown or already disabled ids
// are a no-op and no hook runs.
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.disable(ctx, id)
}

func (m *Manager) disable(ctx context.Context, id string) error {
	e := m.lookup(id)
	if e == nil || !m.IsEnabled(id) {
		return nil
	}

	if d, ok := e.plugin.(Disabler); ok {
		if err := d.Disable(ctx); err != nil {
			m.log.Error().Err(err).Str("plugin", id).Msg("Plugin disable failed")
			return fmt.Errorf("disable %s: %w", id, err)
		}
	}

	m.mu.Lock()
	delete(m.enabled, id)
	m.mu.Unlock()

	m.log.Info().Str("plugin", id).Msg("Plugin disabled")
	m.persistEnabled(ctx)
	return nil
}

// RestoreEnabled enables every persisted id that is registered. Ids naming
// plugins that are not registered are ignored.
func (m *Manager) RestoreEnabled(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}
	var ids []string
	err := storage.GetJSON(ctx, m.kv, EnabledKey, &ids)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.metrics.RecordPersistenceFailure("load")
		return err
	}

	var errs []error
	for _, id := range ids {
		if m.lookup(id) == nil {
			continue
		}
		if err := m.Enable(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExecuteBeforeSendMessage folds every enabled BeforeSendHook over content
// in registration order.
func (m *Manager) ExecuteBeforeSendMessage(ctx context.Context, content string, pc Context) string {
	for _, e := range m.enabledSnapshot() {
		h, ok := e.plugin.(BeforeSendHook)
		if !ok {
			continue
		}
		in := content
		m.invoke(e.manifest.ID, HookBeforeSend, func() error {
			out, changed, err := h.BeforeSendMessage(ctx, in, pc)
			if err != nil {
				return err
			}
			if changed {
				content = out
			}
			return nil
		})
	}
	return content
}

// ExecuteAfterReceiveMessage folds every enabled AfterReceiveHook over msg.
// Identity fields (id, role, thread, parent, timestamp) survive rewrites.
func (m *Manager) ExecuteAfterReceiveMessage(ctx context.Context, msg model.Message, pc Context) model.Message {
	for _, e := range m.enabledSnapshot() {
		h, ok := e.plugin.(AfterReceiveHook)
		if !ok {
			continue
		}
		in := msg.Clone()
		m.invoke(e.manifest.ID, HookAfterReceive, func() error {
			out, err := h.AfterReceiveMessage(ctx, in, pc)
			if err != nil {
				return err
			}
			out.ID, out.Role, out.ThreadID, out.ParentID, out.Timestamp = msg.ID, msg.Role, msg.ThreadID, msg.ParentID, msg.Timestamp
			msg = out
			return nil
		})
	}
	return msg
}

// ExecuteOnMessageEdit notifies every enabled MessageEditHook.
func (m *Manager) ExecuteOnMessageEdit(ctx context.Context, messageID, newContent string, pc Context) {
	for _, e := range m.enabledSnapshot() {
		if h, ok := e.plugin.(MessageEditHook); ok {
			m.invoke(e.manifest.ID, HookMessageEdit, func() error {
				return h.OnMessageEdit(ctx, messageID, newContent, pc)
			})
		}
	}
}

// ExecuteOnThreadCreate notifies every enabled ThreadCreateHook.
func (m *Manager) ExecuteOnThreadCreate(ctx context.Context, threadID string, pc Context) {
	for _, e := range m.enabledSnapshot() {
		if h, ok := e.plugin.(ThreadCreateHook); ok {
			m.invoke(e.manifest.ID, HookThreadCreate, func() error {
				return h.OnThreadCreate(ctx, threadID, pc)
			})
		}
	}
}

// ExecuteOnSettingsChange notifies every enabled SettingsChangeHook.
func (m *Manager) ExecuteOnSettingsChange(ctx context.Context, patch model.SettingsPatch, pc Context) {
	for _, e := range m.enabledSnapshot() {
		if h, ok := e.plugin.(SettingsChangeHook); ok {
			m.invoke(e.manifest.ID, HookSettingsChange, func() error {
				return h.OnSettingsChange(ctx, patch, pc)
			})
		}
	}
}

// invoke runs one hook, converting errors and panics into a logged HookError.
func (m *Manager) invoke(pluginID, hook string, fn func() error) (herr *HookError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HookError{PluginID: pluginID, Hook: hook, Err: fmt.Errorf("panic: %v", r)}
		}
		if herr != nil {
			m.metrics.RecordHookFailure(pluginID, hook)
			m.log.Warn().Err(herr.Err).Str("plugin", pluginID).Str("hook", hook).Msg("Plugin hook failed")
		}
	}()

	if err := fn(); err != nil {
		return &HookError{PluginID: pluginID, Hook: hook, Err: err}
	}
	return nil
}

// Settings returns a copy of the plugin's settings, or nil if the plugin is
// not registered.
func (m *Manager) Settings(id string) Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[id]
	if !ok {
		return nil
	}
	return s.Clone()
}

// UpdateSettings validates patch against the manifest, merges it into the
// plugin's bag and persists the settings of all plugins under SettingsKey.
// A persistence failure is returned; the in-memory update stands.
func (m *Manager) UpdateSettings(ctx context.Context, id string, patch map[string]any) error {
	e := m.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	m.mu.Lock()
	merged, err := e.manifest.ApplyPatch(m.settings[id], patch)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.settings[id] = merged
	m.stored[id] = merged.Clone()
	snapshot := make(map[string]map[string]any, len(m.stored))
	for k, v := range m.stored {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if c, ok := e.plugin.(Configurable); ok {
		c.Configure(merged.Clone())
	}

	if m.kv == nil {
		return nil
	}
	if err := storage.PutJSON(ctx, m.kv, SettingsKey, snapshot); err != nil {
		m.metrics.RecordPersistenceFailure("save")
		m.log.Warn().Err(err).Str("plugin", id).Msg("Failed to persist plugin settings")
		return err
	}
	return nil
}

// Plugin returns the registered plugin with id.
func (m *Manager) Plugin(id string) (Plugin, bool) {
	e := m.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.plugin, true
}

// Plugins returns every registered plugin in registration order.
func (m *Manager) Plugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].plugin)
	}
	return out
}

// EnabledPlugins returns the enabled plugins in registration order.
func (m *Manager) EnabledPlugins() []Plugin {
	snap := m.enabledSnapshot()
	out := make([]Plugin, len(snap))
	for i, e := range snap {
		out[i] = e.plugin
	}
	return out
}

func (m *Manager) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[id]
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

func (m *Manager) enabledSnapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.enabled))
	for _, id := range m.order {
		if m.enabled[id] {
			out = append(out, m.entries[id])
		}
	}
	return out
}

func (m *Manager) persistEnabled(ctx context.Context) {
	if m.kv == nil {
		return
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.enabled))
	for _, id := range m.order {
		if m.enabled[id] {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	if err := storage.PutJSON(ctx, m.kv, EnabledKey, ids); err != nil {
		m.metrics.RecordPersistenceFailure("save")
		m.log.Warn().Err(err).Msg("Failed to persist enabled plugins")
	}
}
