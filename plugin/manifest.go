package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidManifest = errors.New("invalid plugin manifest")
	ErrInvalidSetting  = errors.New("invalid plugin setting")
)

// Permission names a capability a plugin declares it needs.
type Permission string

const (
	PermReadMessages   Permission = "read_messages"
	PermModifyMessages Permission = "modify_messages"
	PermAccessFiles    Permission = "access_files"
	PermNetworkAccess  Permission = "network_access"
	PermStorageAccess  Permission = "storage_access"
)

func (p Permission) valid() bool {
	switch p {
	case PermReadMessages, PermModifyMessages, PermAccessFiles, PermNetworkAccess, PermStorageAccess:
		return true
	}
	return false
}

// SettingType discriminates a declared setting.
type SettingType string

const (
	SettingBoolean SettingType = "boolean"
	SettingNumber  SettingType = "number"
	SettingSelect  SettingType = "select"
	SettingString  SettingType = "string"
)

// Option is one choice of a select setting.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// SettingSpec declares one key of a plugin's settings bag.
type SettingSpec struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        SettingType `json:"type"`
	Default     any         `json:"default,omitempty"`
	Options     []Option    `json:"options,omitempty"`
	Required    bool        `json:"required,omitempty"`
}

// Coerce converts v into the setting's canonical Go type: bool, float64,
// string, or the matching option's value for selects.
func (s SettingSpec) Coerce(v any) (any, error) {
	if v == nil {
		if s.Required {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidSetting, s.Key)
		}
		return s.Default, nil
	}

	switch s.Type {
	case SettingBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("%w: %s expects a boolean, got %v", ErrInvalidSetting, s.Key, v)

	case SettingNumber:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: %s expects a number, got %v", ErrInvalidSetting, s.Key, v)

	case SettingSelect:
		want := fmt.Sprint(v)
		for _, opt := range s.Options {
			if fmt.Sprint(opt.Value) == want {
				return opt.Value, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be one of %s, got %v", ErrInvalidSetting, s.Key, s.optionList(), v)

	case SettingString:
		var str string
		switch t := v.(type) {
		case string:
			str = t
		case bool, float64, float32, int, int64, json.Number:
			str = fmt.Sprint(t)
		default:
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidSetting, s.Key, v)
		}
		if s.Required && strings.TrimSpace(str) == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidSetting, s.Key)
		}
		return str, nil
	}

	return nil, fmt.Errorf("%w: %s has unknown type %q", ErrInvalidSetting, s.Key, s.Type)
}

func (s SettingSpec) optionList() string {
	vals := make([]string, len(s.Options))
	for i, o := range s.Options {
		vals[i] = fmt.Sprint(o.Value)
	}
	return strings.Join(vals, ", ")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Manifest describes a plugin: identity, permissions and settings schema.
type Manifest struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description"`
	Author      string        `json:"author"`
	Permissions []Permission  `json:"permissions"`
	Settings    []SettingSpec `json:"settings,omitempty"`
}

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Validate checks identity fields and the settings schema.
func (m Manifest) Validate() error {
	if !pluginIDPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits, '.', '_' or '-'", ErrInvalidManifest, m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidManifest, m.ID)
	}
	for _, p := range m.Permissions {
		if !p.valid() {
			return fmt.Errorf("%w: %s declares unknown permission %q", ErrInvalidManifest, m.ID, p)
		}
	}

	seen := make(map[string]bool, len(m.Settings))
	for _, s := range m.Settings {
		if s.Key == "" {
			return fmt.Errorf("%w: %s has a setting without a key", ErrInvalidManifest, m.ID)
		}
		if seen[s.Key] {
			return fmt.Errorf("%w: %s declares %s twice", ErrInvalidManifest, m.ID, s.Key)
		}
		seen[s.Key] = true

		switch s.Type {
		case SettingBoolean, SettingNumber, SettingString:
		case SettingSelect:
			if len(s.Options) == 0 {
				return fmt.Errorf("%w: select setting %s has no options", ErrInvalidManifest, s.Key)
			}
		default:
			return fmt.Errorf("%w: setting %s has unknown type %q", ErrInvalidManifest, s.Key, s.Type)
		}

		if s.Default != nil {
			if _, err := s.Coerce(s.Default); err != nil {
				return fmt.Errorf("%w: default for %s: %v", ErrInvalidManifest, s.Key, err)
			}
		}
	}
	return nil
}

// HasPermission reports whether the manifest declares p.
func (m Manifest) HasPermission(p Permission) bool {
	for _, have := range m.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

func (m Manifest) spec(key string) (SettingSpec, bool) {
	for _, s := range m.Settings {
		if s.Key == key {
			return s, true
		}
	}
	return SettingSpec{}, false
}

// Defaults returns the declared default of every setting that has one.
func (m Manifest) Defaults() Settings {
	out := make(Settings, len(m.Settings))
	for _, s := range m.Settings {
		if s.Default != nil {
			v, _ := s.Coerce(s.Default)
			out[s.Key] = v
		}
	}
	return out
}

// Normalize validates a stored settings bag against the schema. Declared
// keys are coerced; invalid values fall back to the default and undeclared
// keys are dropped. Every correction is reported.
func (m Manifest) Normalize(raw map[string]any) (Settings, []error) {
	out := m.Defaults()
	var problems []error

	for key, v := range raw {
		spec, ok := m.spec(key)
		if !ok {
			problems = append(problems, fmt.Errorf("%w: %s is not declared by %s", ErrInvalidSetting, key, m.ID))
			continue
		}
		coerced, err := spec.Coerce(v)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		out[key] = coerced
	}
	return out, problems
}

// ApplyPatch merges patch into current after validating every key.
// Nothing is applied if any key is undeclared or invalid.
func (m Manifest) ApplyPatch(current Settings, patch map[string]any) (Settings, error) {
	out := current.Clone()
	for key, v := range patch {
		spec, ok := m.spec(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not declared by %s", ErrInvalidSetting, key, m.ID)
		}
		coerced, err := spec.Coerce(v)
		if err != nil {
			return nil, err
		}
		out[key] = coerced
	}
	return out, nil
}

// Settings is a plugin's private key/value bag.
type Settings map[string]any

// Clone returns a shallow copy; a nil receiver yields an empty bag.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s Settings) Bool(key string, def bool) bool {
	if b, ok := s[key].(bool); ok {
		return b
	}
	return def
}

func (s Settings) String(key, def string) string {
	if v, ok := s[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

func (s Settings) Number(key string, def float64) float64 {
	if f, ok := toFloat(s[key]); ok {
		return f
	}
	return def
}
