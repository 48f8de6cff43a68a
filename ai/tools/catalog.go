package tools

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

// DefaultExcludedTools are backends that exist upstream but are never offered
// to the models: list management and todo retrieval add noise to the tool
// schema without serving voice interaction.
func DefaultExcludedTools() []string {
	return []string{"HassListAddItem", "HassListCompleteItem", "todo_get_items"}
}

// Catalog holds the tool descriptors advertised to the tool model, minus the
// excluded set. Descriptors are registered once at startup; reads after that
// are concurrency-safe because the slice is never mutated again.
type Catalog struct {
	tools    []llm.ToolDescriptor
	excluded map[string]bool
}

// NewCatalog builds a catalog from the full descriptor set, dropping the
// excluded names. A nil excluded list means DefaultExcludedTools.
func NewCatalog(all []llm.ToolDescriptor, excluded []string) *Catalog {
	if excluded == nil {
		excluded = DefaultExcludedTools()
	}
	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}

	kept := make([]llm.ToolDescriptor, 0, len(all))
	for _, t := range all {
		if skip[t.Name] {
			continue
		}
		kept = append(kept, t)
	}

	slog.Info("tools: catalog initialized", "available", len(kept), "excluded", len(all)-len(kept))
	return &Catalog{tools: kept, excluded: skip}
}

// All returns every advertised descriptor.
func (c *Catalog) All() []llm.ToolDescriptor {
	return c.tools
}

// Len reports the number of advertised tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// Has reports whether a tool with the given name is advertised.
func (c *Catalog) Has(name string) bool {
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

var (
	searchQueryKeywords = []string{"search", "weather", "news", "find", "look up", "forecast"}
	homeQueryKeywords   = []string{
		"turn on", "turn off", "switch", "light", "lights", "lamp",
		"temperature", "climate", "cover", "blinds", "open", "close",
	}
	timeQueryKeywords = []string{"what time", "current time", "time is it", "clock"}
)

func hasKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(text, kw) {
				return true
			}
			continue
		}
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// FilterForQuery narrows the catalog to the tools relevant to the user's
// request, so the tool model picks from a focused schema. A clearly
// search-shaped query drops the device-control family; a clearly time-shaped
// query keeps only time tools. Ambiguous or home-control queries get the
// whole catalog. The filter never returns an empty set: when narrowing would
// leave nothing, it falls back to everything.
func (c *Catalog) FilterForQuery(userQuery string) []llm.ToolDescriptor {
	lower := strings.ToLower(userQuery)

	isSearch := hasKeyword(lower, searchQueryKeywords)
	isHome := hasKeyword(lower, homeQueryKeywords)
	isTime := hasKeyword(lower, timeQueryKeywords)

	if isSearch && !isHome {
		var filtered []llm.ToolDescriptor
		for _, t := range c.tools {
			name := strings.ToLower(t.Name)
			switch {
			case strings.Contains(name, "search") || strings.Contains(name, "ddg"):
				filtered = append(filtered, t)
			case strings.Contains(name, "time") || strings.Contains(name, "timezone"):
				filtered = append(filtered, t)
			}
		}
		if len(filtered) > 0 {
			slog.Info("tools: narrowed catalog for search query", "kept", len(filtered), "total", len(c.tools))
			return filtered
		}
		slog.Warn("tools: no search tools available, falling back to full catalog")
	}

	if isTime && !isHome && !isSearch {
		var filtered []llm.ToolDescriptor
		for _, t := range c.tools {
			name := strings.ToLower(t.Name)
			if strings.Contains(name, "time") || strings.Contains(name, "timezone") {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) > 0 {
			slog.Info("tools: narrowed catalog for time query", "kept", len(filtered), "total", len(c.tools))
			return filtered
		}
	}

	return c.tools
}
