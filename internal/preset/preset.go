// Package preset loads named system-message presets from JSON files.
//
// A preset file is a JSON object mapping preset names to either the prompt
// text or an object with a "content" field:
//
//	{"Summarizer": "Summarize the input.", "Critic": {"content": "Critique it."}}
//
// Later files override earlier ones, so user presets can shadow defaults.
package preset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"
)

// DefaultPrompt selects the free-text system message instead of a preset.
const DefaultPrompt = "Use [system_message] and [user_input]"

// ErrUnknownPreset is returned by Resolve for names not in the catalog.
var ErrUnknownPreset = errors.New("unknown preset")

// Catalog is an immutable name -> system message mapping.
type Catalog struct {
	prompts map[string]string
}

// Load reads the given files in order. Missing files are skipped; malformed
// ones are an error.
func Load(logger *zap.Logger, paths ...string) (*Catalog, error) {
	c := &Catalog{prompts: make(map[string]string)}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("preset file not found, skipping", zap.String("path", path))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read preset file %s: %w", path, err)
		}
		n, err := c.merge(data)
		if err != nil {
			return nil, fmt.Errorf("parse preset file %s: %w", path, err)
		}
		logger.Debug("preset file loaded", zap.String("path", path), zap.Int("presets", n))
	}
	return c, nil
}

// FromMap builds a catalog from an in-memory mapping.
func FromMap(prompts map[string]string) *Catalog {
	c := &Catalog{prompts: make(map[string]string, len(prompts))}
	for k, v := range prompts {
		c.prompts[k] = v
	}
	return c
}

func (c *Catalog) merge(data []byte) (int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, err
	}
	for name, val := range raw {
		var text string
		if err := json.Unmarshal(val, &text); err == nil {
			c.prompts[name] = text
			continue
		}
		var obj struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(val, &obj); err != nil || obj.Content == nil {
			return 0, fmt.Errorf("preset %q: want a string or an object with \"content\"", name)
		}
		c.prompts[name] = *obj.Content
	}
	return len(raw), nil
}

// Names returns the preset names in sorted order, prefixed by DefaultPrompt.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.prompts))
	for name := range c.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{DefaultPrompt}, names...)
}

// Get returns the system message for name.
func (c *Catalog) Get(name string) (string, bool) {
	text, ok := c.prompts[name]
	return text, ok
}

// Resolve returns the system message to use for a turn: systemMessage when
// preset is DefaultPrompt or empty, otherwise the preset's text.
func (c *Catalog) Resolve(preset, systemMessage string) (string, error) {
	if preset == "" || preset == DefaultPrompt {
		return systemMessage, nil
	}
	text, ok := c.prompts[preset]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
	}
	return text, nil
}
