package tools

import (
	"testing"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

func testDescriptors() []llm.ToolDescriptor {
	return []llm.ToolDescriptor{
		{Name: "HassTurnOn"},
		{Name: "HassTurnOff"},
		{Name: "GetLiveContext"},
		{Name: "ddg_search"},
		{Name: "get_current_time"},
		{Name: "convert_time"},
		{Name: "HassListAddItem"},
		{Name: "todo_get_items"},
	}
}

func descriptorNames(ds []llm.ToolDescriptor) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}

func TestCatalog_ExcludesDefaults(t *testing.T) {
	c := NewCatalog(testDescriptors(), nil)

	if c.Has("HassListAddItem") || c.Has("todo_get_items") {
		t.Error("default-excluded tools must not be advertised")
	}
	if !c.Has("HassTurnOn") || !c.Has("ddg_search") {
		t.Error("non-excluded tools must stay advertised")
	}
	if c.Len() != 6 {
		t.Errorf("Len() = %d, want 6", c.Len())
	}
}

func TestCatalog_FilterForSearchQuery(t *testing.T) {
	c := NewCatalog(testDescriptors(), nil)

	filtered := c.FilterForQuery("search for the weather in Rome")
	for _, name := range descriptorNames(filtered) {
		if name == "HassTurnOn" || name == "HassTurnOff" {
			t.Errorf("search query must drop device-control tools, got %v", descriptorNames(filtered))
		}
	}

	var hasSearch bool
	for _, name := range descriptorNames(filtered) {
		if name == "ddg_search" {
			hasSearch = true
		}
	}
	if !hasSearch {
		t.Error("search query must keep the search tool")
	}
}

func TestCatalog_FilterForTimeQuery(t *testing.T) {
	c := NewCatalog(testDescriptors(), nil)

	filtered := c.FilterForQuery("what time is it")
	names := descriptorNames(filtered)
	if len(names) == 0 {
		t.Fatal("time query must not empty the catalog")
	}
	for _, name := range names {
		if name != "get_current_time" && name != "convert_time" {
			t.Errorf("time query kept non-time tool %q", name)
		}
	}
}

func TestCatalog_FilterAmbiguousKeepsAll(t *testing.T) {
	c := NewCatalog(testDescriptors(), nil)

	for _, query := range []string{
		"turn on the kitchen light",
		"hello there",
		// Both home and search vocabulary: stay broad.
		"search for the light switch manual",
	} {
		if got := len(c.FilterForQuery(query)); got != c.Len() {
			t.Errorf("query %q narrowed catalog to %d, want full %d", query, got, c.Len())
		}
	}
}

func TestCatalog_FilterNeverEmpty(t *testing.T) {
	c := NewCatalog([]llm.ToolDescriptor{{Name: "HassTurnOn"}}, []string{})

	filtered := c.FilterForQuery("search the news")
	if len(filtered) == 0 {
		t.Fatal("filter must fall back to the full catalog when narrowing finds nothing")
	}
}
