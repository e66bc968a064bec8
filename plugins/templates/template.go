package templates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"chatwrap/plugin"
)

// VariableType controls how a template variable is presented for input.
type VariableType string

const (
	VarText      VariableType = "text"
	VarNumber    VariableType = "number"
	VarSelect    VariableType = "select"
	VarMultiline VariableType = "multiline"
)

// Variable is one placeholder a template declares.
type Variable struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        VariableType    `json:"type"`
	Required    bool            `json:"required"`
	Default     any             `json:"default,omitempty"`
	Options     []plugin.Option `json:"options,omitempty"`
}

// Template is a reusable prompt body with {{var}} placeholders and
// {{#if var}}...{{/if}} blocks.
type Template struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Body        string     `json:"template"`
	Variables   []Variable `json:"variables"`
	Language    string     `json:"language"`
	Tags        []string   `json:"tags"`
	Builtin     bool       `json:"-"`
}

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the fields a custom template must carry.
func (t Template) Validate() error {
	if !templateIDPattern.MatchString(t.ID) {
		return fmt.Errorf("invalid template id %q", t.ID)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("template %s has an empty body", t.ID)
	}
	seen := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		if v.Name == "" {
			return fmt.Errorf("template %s has a variable without a name", t.ID)
		}
		if seen[v.Name] {
			return fmt.Errorf("template %s declares %s twice", t.ID, v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

func (t Template) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(have, tag) {
			return true
		}
	}
	return false
}

var conditionalPattern = regexp.MustCompile(`(?s)\{\{#if\s+([A-Za-z0-9_]+)\s*\}\}(.*?)\{\{/if\}\}`)

// Render expands the template. A variable resolves to the supplied value,
// else its declared default, else "". Conditionals are evaluated first on
// the resolved value; undeclared names resolve only from vars.
func (t Template) Render(vars map[string]string) string {
	resolved := make(map[string]string, len(t.Variables)+len(vars))
	for k, v := range vars {
		resolved[k] = v
	}
	for _, v := range t.Variables {
		if _, ok := vars[v.Name]; ok {
			continue
		}
		if v.Default != nil {
			resolved[v.Name] = fmt.Sprint(v.Default)
		} else {
			resolved[v.Name] = ""
		}
	}

	out := conditionalPattern.ReplaceAllStringFunc(t.Body, func(block string) string {
		m := conditionalPattern.FindStringSubmatch(block)
		if truthy(resolved[m[1]]) {
			return m[2]
		}
		return ""
	})

	for _, v := range t.Variables {
		out = strings.ReplaceAll(out, "{{"+v.Name+"}}", resolved[v.Name])
	}
	return out
}

// truthy treats "", false, 0, no and off as false.
func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0
	}
	switch strings.ToLower(s) {
	case "no", "off":
		return false
	}
	return true
}

const commandPrefix = "/template"

// ParseCommand recognises "/template <id> [key=value ...]". ok is false for
// any other content.
func ParseCommand(content string) (id string, params map[string]string, ok bool) {
	content = strings.TrimSpace(content)
	rest, found := strings.CutPrefix(content, commandPrefix)
	if !found || rest == "" || !unicode.IsSpace(rune(rest[0])) {
		return "", nil, false
	}
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)

	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end < 0 {
		end = len(rest)
	}
	id = rest[:end]
	if !templateIDPattern.MatchString(id) {
		return "", nil, false
	}
	return id, parseParams(rest[end:]), true
}

// parseParams splits key=value pairs. An unquoted value runs until the next
// key= token, so spaces and newlines are kept. A value wrapped in matching
// ' or " quotes is unwrapped, and a quoted value never starts a new key.
func parseParams(s string) map[string]string {
	params := make(map[string]string)
	keys := keyTokens(s)
	for i, k := range keys {
		end := len(s)
		if i+1 < len(keys) {
			end = keys[i+1].start
		}
		params[k.name] = unquote(strings.TrimSpace(s[k.valueStart:end]))
	}
	return params
}

type keyToken struct {
	name       string
	start      int
	valueStart int
}

// keyTokens finds every whitespace-delimited "key=" outside quotes. A quote
// opens only at the start of a token or directly after "=".
func keyTokens(s string) []keyToken {
	var keys []keyToken
	var quote rune
	tokenStart := -1
	inValue := false

	for i, r := range s {
		isQuote := r == '"' || r == '\''
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case unicode.IsSpace(r):
			tokenStart, inValue = -1, false
		case tokenStart < 0:
			tokenStart = i
			if isQuote {
				quote = r
			}
		case inValue:
			if isQuote && i == keys[len(keys)-1].valueStart {
				quote = r
			}
		case r == '=':
			if name := s[tokenStart:i]; isParamKey(name) {
				keys = append(keys, keyToken{name: name, start: tokenStart, valueStart: i + 1})
				inValue = true
			}
		}
	}
	return keys
}

func isParamKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
