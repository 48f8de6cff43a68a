package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

// TimeToolDescriptors returns the clock tools served in-process.
func TimeToolDescriptors() []llm.ToolDescriptor {
	return []llm.ToolDescriptor{
		{
			Name:        "get_current_time",
			Description: "Get the current wall-clock time in a specific timezone.",
			Parameters: schemaString(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"timezone": {
						Type:        "string",
						Description: "IANA timezone name, e.g. Europe/Rome. Defaults to UTC.",
					},
				},
			}),
		},
		{
			Name:        "convert_time",
			Description: "Convert a wall-clock time from one timezone to another.",
			Parameters: schemaString(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"time":          {Type: "string", Description: "Time to convert in 24-hour HH:MM format."},
					"from_timezone": {Type: "string", Description: "Source IANA timezone name."},
					"to_timezone":   {Type: "string", Description: "Target IANA timezone name."},
				},
				Required: []string{"time", "from_timezone", "to_timezone"},
			}),
		},
	}
}

// BridgeToolDescriptors returns the tools served by an external bridge:
// device control, live context, and web search.
func BridgeToolDescriptors() []llm.ToolDescriptor {
	deviceParams := schemaString(&llm.JSONSchema{
		Type: "object",
		Properties: map[string]*llm.JSONSchema{
			"name":   {Type: "string", Description: "Exact device name as reported by the home."},
			"domain": {Type: "string", Description: "Device domain, e.g. light, switch, media_player."},
			"area":   {Type: "string", Description: "Area the device is in, e.g. kitchen."},
		},
		Required: []string{"name"},
	})

	return []llm.ToolDescriptor{
		{
			Name:        "HassTurnOn",
			Description: "Turn on a device or entity in the home.",
			Parameters:  deviceParams,
		},
		{
			Name:        "HassTurnOff",
			Description: "Turn off a device or entity in the home.",
			Parameters:  deviceParams,
		},
		{
			Name:        "HassLightSet",
			Description: "Set brightness or color of a light.",
			Parameters: schemaString(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"name":       {Type: "string", Description: "Exact light name."},
					"brightness": {Type: "string", Description: "Brightness percent, 0-100."},
					"color":      {Type: "string", Description: "Color name."},
				},
				Required: []string{"name"},
			}),
		},
		{
			Name:        ContextFetchTool,
			Description: "Fetch the live state of the home: device names, areas, and current states. Takes no arguments.",
			Parameters: schemaString(&llm.JSONSchema{
				Type:       "object",
				Properties: map[string]*llm.JSONSchema{},
			}),
		},
		{
			Name:        "search",
			Description: "Search the web for current information.",
			Parameters: schemaString(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"query": {Type: "string", Description: "Search query."},
				},
				Required: []string{"query"},
			}),
		},
	}
}

func schemaString(s *llm.JSONSchema) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// HandleGetCurrentTime serves the get_current_time tool in-process.
func HandleGetCurrentTime(_ context.Context, args map[string]any) (string, error) {
	tz, _ := args["timezone"].(string)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("unknown timezone %q", tz)
	}
	now := time.Now().In(loc)
	return fmt.Sprintf("The current time in %s is %s on %s.",
		tz, now.Format("15:04"), now.Format("Monday, January 2, 2006")), nil
}

// HandleConvertTime serves the convert_time tool in-process. The time
// argument is interpreted on today's date in the source timezone.
func HandleConvertTime(_ context.Context, args map[string]any) (string, error) {
	rawTime, _ := args["time"].(string)
	fromTZ, _ := args["from_timezone"].(string)
	toTZ, _ := args["to_timezone"].(string)
	if rawTime == "" || fromTZ == "" || toTZ == "" {
		return "", fmt.Errorf("time, from_timezone and to_timezone are required")
	}

	fromLoc, err := time.LoadLocation(fromTZ)
	if err != nil {
		return "", fmt.Errorf("unknown timezone %q", fromTZ)
	}
	toLoc, err := time.LoadLocation(toTZ)
	if err != nil {
		return "", fmt.Errorf("unknown timezone %q", toTZ)
	}

	parsed, err := time.Parse("15:04", rawTime)
	if err != nil {
		return "", fmt.Errorf("time must be in HH:MM format, got %q", rawTime)
	}

	now := time.Now().In(fromLoc)
	src := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, fromLoc)
	dst := src.In(toLoc)

	return fmt.Sprintf("%s in %s is %s in %s.",
		src.Format("15:04"), fromTZ, dst.Format("15:04"), toTZ), nil
}
