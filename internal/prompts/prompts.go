// ABOUTME: Prompt templates loaded from TOML with embedded defaults.
// ABOUTME: Builds per-run instructions from the enabled tools and any forced tool.

package prompts

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultTOML string

// Templates holds the prompt texts.
type Templates struct {
	System    string            `toml:"system"`
	ForceTool string            `toml:"force_tool"`
	Title     string            `toml:"title"`
	Tools     map[string]string `toml:"tools"`
}

// Default returns the embedded templates.
func Default() *Templates {
	var t Templates
	if _, err := toml.Decode(defaultTOML, &t); err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return &t
}

// Load returns the defaults overridden by the TOML file at path.
// An empty path returns the defaults.
func Load(path string) (*Templates, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}

	var override Templates
	if _, err := toml.Decode(string(data), &override); err != nil {
		return nil, fmt.Errorf("parsing prompts file: %w", err)
	}
	if override.System != "" {
		t.System = override.System
	}
	if override.ForceTool != "" {
		t.ForceTool = override.ForceTool
	}
	if override.Title != "" {
		t.Title = override.Title
	}
	maps.Copy(t.Tools, override.Tools)
	return t, nil
}

// Instructions assembles the system instructions for one run. tools lists the
// tools offered to the model in order; forced names a tool the user requested.
func (t *Templates) Instructions(tools []string, forced string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.System))
	for _, name := range tools {
		if guide := strings.TrimSpace(t.Tools[name]); guide != "" {
			b.WriteString("\n\n")
			b.WriteString(guide)
		}
	}
	if forced != "" {
		b.WriteString("\n\n")
		b.WriteString(t.ForceDirective(forced))
	}
	return b.String()
}

// ForceDirective tells the model to call the named tool.
func (t *Templates) ForceDirective(tool string) string {
	return strings.TrimSpace(strings.ReplaceAll(t.ForceTool, "{tool}", tool))
}
