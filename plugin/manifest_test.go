package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest() Manifest {
	return Manifest{
		ID:          "sample",
		Name:        "Sample",
		Version:     "1.0.0",
		Permissions: []Permission{PermReadMessages},
		Settings: []SettingSpec{
			{Key: "enabled", Name: "Enabled", Type: SettingBoolean, Default: true},
			{Key: "limit", Name: "Limit", Type: SettingNumber, Default: 3},
			{Key: "lang", Name: "Language", Type: SettingSelect, Default: "en", Options: []Option{
				{Label: "English", Value: "en"},
				{Label: "Korean", Value: "ko"},
			}},
			{Key: "prefix", Name: "Prefix", Type: SettingString},
		},
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Manifest) {}},
		{name: "hyphenated id", mutate: func(m *Manifest) { m.ID = "prompt-templates" }},
		{name: "uppercase id", mutate: func(m *Manifest) { m.ID = "Sample" }, wantErr: true},
		{name: "empty id", mutate: func(m *Manifest) { m.ID = "" }, wantErr: true},
		{name: "missing name", mutate: func(m *Manifest) { m.Name = " " }, wantErr: true},
		{name: "unknown permission", mutate: func(m *Manifest) { m.Permissions = []Permission{"root"} }, wantErr: true},
		{name: "duplicate key", mutate: func(m *Manifest) { m.Settings = append(m.Settings, m.Settings[0]) }, wantErr: true},
		{name: "select without options", mutate: func(m *Manifest) { m.Settings[2].Options = nil }, wantErr: true},
		{name: "bad default", mutate: func(m *Manifest) { m.Settings[1].Default = "many" }, wantErr: true},
		{name: "unknown type", mutate: func(m *Manifest) { m.Settings[0].Type = "color" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest()
			m.Settings = append([]SettingSpec(nil), m.Settings...)
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidManifest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingCoerce(t *testing.T) {
	m := testManifest()
	tests := []struct {
		name    string
		key     string
		in      any
		want    any
		wantErr bool
	}{
		{name: "bool", key: "enabled", in: false, want: false},
		{name: "bool from string", key: "enabled", in: "true", want: true},
		{name: "bool rejects number", key: "enabled", in: 1.0, wantErr: true},
		{name: "number from int", key: "limit", in: 5, want: 5.0},
		{name: "number from string", key: "limit", in: "2.5", want: 2.5},
		{name: "number rejects word", key: "limit", in: "few", wantErr: true},
		{name: "select option", key: "lang", in: "ko", want: "ko"},
		{name: "select unknown", key: "lang", in: "fr", wantErr: true},
		{name: "string", key: "prefix", in: ">> ", want: ">> "},
		{name: "nil gives default", key: "limit", in: nil, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, ok := m.spec(tt.key)
			require.True(t, ok)
			got, err := spec.Coerce(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSetting)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManifestNormalize(t *testing.T) {
	m := testManifest()

	got, problems := m.Normalize(map[string]any{
		"enabled": false,
		"limit":   "lots",
		"extra":   1,
	})

	assert.Len(t, problems, 2)
	assert.Equal(t, false, got["enabled"])
	assert.Equal(t, 3.0, got["limit"], "invalid value falls back to default")
	assert.Equal(t, "en", got["lang"])
	assert.NotContains(t, got, "extra")
	assert.NotContains(t, got, "prefix", "no default declared")
}

func TestManifestApplyPatch(t *testing.T) {
	m := testManifest()
	current := m.Defaults()

	_, err := m.ApplyPatch(current, map[string]any{"lang": "ko", "limit": "x"})
	assert.ErrorIs(t, err, ErrInvalidSetting)
	assert.Equal(t, "en", current["lang"], "failed patch leaves input untouched")

	_, err = m.ApplyPatch(current, map[string]any{"unknown": true})
	assert.ErrorIs(t, err, ErrInvalidSetting)

	got, err := m.ApplyPatch(current, map[string]any{"lang": "ko", "limit": 7})
	require.NoError(t, err)
	assert.Equal(t, "ko", got["lang"])
	assert.Equal(t, 7.0, got["limit"])
	assert.Equal(t, true, got["enabled"])
}

func TestSettingsAccessors(t *testing.T) {
	s := Settings{"on": true, "n": 2.0, "name": "x"}

	assert.True(t, s.Bool("on", false))
	assert.True(t, s.Bool("missing", true))
	assert.Equal(t, 2.0, s.Number("n", 0))
	assert.Equal(t, 9.0, s.Number("name", 9))
	assert.Equal(t, "x", s.String("name", ""))
	assert.Equal(t, "d", s.String("missing", "d"))

	var nilBag Settings
	assert.NotNil(t, nilBag.Clone())
	assert.True(t, testManifest().HasPermission(PermReadMessages))
	assert.False(t, testManifest().HasPermission(PermNetworkAccess))
}
