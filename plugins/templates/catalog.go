package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"chatwrap/storage"
)

// CustomKey is where user-added templates are stored.
const CustomKey = "templates/custom"

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrBuiltinTemplate  = errors.New("built-in templates cannot be modified")
)

// Catalog holds the built-in templates plus user-added ones. Built-in
// entries are never mutated by custom template changes.
type Catalog struct {
	mu       sync.RWMutex
	builtins []Template
	custom   []Template
	kv       storage.KV
}

// NewCatalog creates a catalog persisting custom templates to kv. A nil kv
// keeps them in memory.
func NewCatalog(kv storage.KV) *Catalog {
	builtins := builtinTemplates()
	for i := range builtins {
		builtins[i].Builtin = true
	}
	return &Catalog{builtins: builtins, kv: kv}
}

// Load replaces the custom set with what is stored. Stored entries that
// fail validation or shadow a built-in id are skipped.
func (c *Catalog) Load(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}
	var stored []Template
	err := storage.GetJSON(ctx, c.kv, CustomKey, &stored)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load custom templates: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom = c.custom[:0]
	for _, t := range stored {
		if t.Validate() != nil || c.builtinIndex(t.ID) >= 0 {
			continue
		}
		t.Builtin = false
		c.custom = append(c.custom, t)
	}
	return nil
}

// All returns built-in templates followed by custom ones.
func (c *Catalog) All() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]Template, 0, len(c.builtins)+len(c.custom))
	all = append(all, c.builtins...)
	all = append(all, c.custom...)
	return all
}

func (c *Catalog) Get(id string) (Template, bool) {
	for _, t := range c.All() {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

func (c *Catalog) ByCategory(category string) []Template {
	var out []Template
	for _, t := range c.All() {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out
}

func (c *Catalog) ByTag(tag string) []Template {
	var out []Template
	for _, t := range c.All() {
		if t.HasTag(tag) {
			out = append(out, t)
		}
	}
	return out
}

type searchable []Template

func (s searchable) String(i int) string {
	t := s[i]
	return t.ID + " " + t.Name + " " + t.Category + " " + strings.Join(t.Tags, " ") + " " + t.Description
}

func (s searchable) Len() int { return len(s) }

// Search fuzzy-matches query against id, name, category, tags and
// description, best match first. An empty query returns everything.
func (c *Catalog) Search(query string) []Template {
	all := c.All()
	if strings.TrimSpace(query) == "" {
		return all
	}
	matches := fuzzy.FindFrom(query, searchable(all))
	out := make([]Template, len(matches))
	for i, m := range matches {
		out[i] = all[m.Index]
	}
	return out
}

// AddCustom stores t, replacing a custom template with the same id.
func (c *Catalog) AddCustom(ctx context.Context, t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Builtin = false

	c.mu.Lock()
	if c.builtinIndex(t.ID) >= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBuiltinTemplate, t.ID)
	}
	if i := c.customIndex(t.ID); i >= 0 {
		c.custom[i] = t
	} else {
		c.custom = append(c.custom, t)
	}
	snapshot := append([]Template(nil), c.custom...)
	c.mu.Unlock()

	return c.save(ctx, snapshot)
}

// RemoveCustom deletes a custom template.
func (c *Catalog) RemoveCustom(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.builtinIndex(id) >= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBuiltinTemplate, id)
	}
	i := c.customIndex(id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	c.custom = append(c.custom[:i:i], c.custom[i+1:]...)
	snapshot := append([]Template(nil), c.custom...)
	c.mu.Unlock()

	return c.save(ctx, snapshot)
}

func (c *Catalog) save(ctx context.Context, custom []Template) error {
	if c.kv == nil {
		return nil
	}
	if custom == nil {
		custom = []Template{}
	}
	return storage.PutJSON(ctx, c.kv, CustomKey, custom)
}

func (c *Catalog) builtinIndex(id string) int {
	for i, t := range c.builtins {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (c *Catalog) customIndex(id string) int {
	for i, t := range c.custom {
		if t.ID == id {
			return i
		}
	}
	return -1
}
