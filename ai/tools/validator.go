package tools

import (
	"fmt"
	"log/slog"
	"strings"
)

// controlTools are the device-control operations that hard-require a target
// device name.
var controlTools = map[string]bool{
	"HassTurnOn":             true,
	"HassTurnOff":            true,
	"HassLightSet":           true,
	"HassSetPosition":        true,
	"HassMediaPlay":          true,
	"HassMediaPause":         true,
	"HassMediaNext":          true,
	"HassMediaPrevious":      true,
	"HassVacuumStart":        true,
	"HassVacuumReturnToBase": true,
}

// domainAdvisedTools additionally benefit from an explicit 'domain' argument.
var domainAdvisedTools = map[string]bool{
	"HassTurnOn":   true,
	"HassTurnOff":  true,
	"HassLightSet": true,
}

// IsDeviceControl reports whether the tool belongs to the device-control
// family. The orchestrator keys the automatic context-fetch injection on it.
func IsDeviceControl(name string) bool {
	return strings.HasPrefix(name, "Hass")
}

// Validator screens proposed calls before execution so that a call guaranteed
// to fail never spends a retry attempt. Validation is per-family: it knows
// the required arguments of device-control, search, and time tools, passes
// the zero-argument context fetch through, and lets unknown tools through
// untouched so new backends work without a validator update.
type Validator struct{}

// NewValidator creates a call validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks one call. An invalid call comes back with a message that
// already carries the error marker, so it can be fed to the model as a tool
// result verbatim. Soft concerns (missing domain, suspicious query) are
// logged but never reject.
func (v *Validator) Validate(call Call) (bool, string) {
	args, err := call.Args()
	if err != nil {
		slog.Error("tools: failed to parse call arguments", "tool", call.Name, "arguments", call.Arguments)
		return false, ErrorMarker + " invalid tool arguments (malformed JSON)"
	}

	switch {
	case IsDeviceControl(call.Name):
		return v.validateDeviceControl(call.Name, args)
	case call.Name == "search" || call.Name == "ddg_search":
		return v.validateSearch(call.Name, args)
	case call.Name == "get_current_time" || call.Name == "convert_time":
		return v.validateTime(call.Name, args)
	}

	// Unknown tools pass; the backend is the authority on their contract.
	return true, ""
}

func (v *Validator) validateDeviceControl(name string, args map[string]any) (bool, string) {
	if name == ContextFetchTool {
		// Zero-argument by contract; 'area' is an optional narrowing.
		return true, ""
	}

	if !controlTools[name] {
		return true, ""
	}

	if s, _ := args["name"].(string); s == "" {
		msg := fmt.Sprintf("%s %s requires the 'name' parameter (target device name). Call %s first to see the available devices.",
			ErrorMarker, name, ContextFetchTool)
		slog.Warn("tools: validation failed", "tool", name, "message", msg)
		return false, msg
	}

	if _, ok := args["device_class"]; ok {
		slog.Warn("tools: 'device_class' argument often causes backend errors, prefer 'name' and 'domain' only", "tool", name)
	}

	if domainAdvisedTools[name] {
		if s, _ := args["domain"].(string); s == "" {
			slog.Warn("tools: call without 'domain', context fetch would supply the correct one", "tool", name)
		}
	}

	return true, ""
}

func (v *Validator) validateSearch(name string, args map[string]any) (bool, string) {
	query, _ := args["query"].(string)
	if query == "" {
		msg := fmt.Sprintf("%s %s requires the 'query' parameter (text to search for).", ErrorMarker, name)
		slog.Warn("tools: validation failed", "tool", name, "message", msg)
		return false, msg
	}

	lower := strings.ToLower(query)
	for _, indicator := range []string{"what time", "current time", "time is it"} {
		if strings.Contains(lower, indicator) {
			slog.Warn("tools: search query looks like a clock-time request, get_current_time would fit better",
				"tool", name, "query", query)
			break
		}
	}

	return true, ""
}

func (v *Validator) validateTime(name string, args map[string]any) (bool, string) {
	switch name {
	case "get_current_time":
		if _, ok := args["timezone"]; !ok {
			slog.Warn("tools: get_current_time called without 'timezone', an IANA zone like 'Europe/Rome' disambiguates")
		}
	case "convert_time":
		var missing []string
		for _, p := range []string{"from_timezone", "to_timezone", "time"} {
			if _, ok := args[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			msg := fmt.Sprintf("%s convert_time requires the parameters: %s", ErrorMarker, strings.Join(missing, ", "))
			slog.Warn("tools: validation failed", "tool", name, "message", msg)
			return false, msg
		}
	}
	return true, ""
}

var validationHints = map[string]string{
	"HassTurnOn":       "Hint: call GetLiveContext() first to see the available devices, then use the exact name and domain.",
	"HassTurnOff":      "Hint: call GetLiveContext() first to see the available devices, then use the exact name and domain.",
	"HassLightSet":     "Hint: call GetLiveContext() first to see the available lights, then use the exact name and domain.",
	"search":           "Hint: the 'query' parameter must contain the text to search for (e.g. 'weather Rome').",
	"ddg_search":       "Hint: the 'query' parameter must contain the text to search for (e.g. 'weather Rome').",
	"get_current_time": "Hint: pass an IANA timezone such as 'Europe/Rome'.",
}

// Hint returns a per-tool remediation hint appended to failure feedback sent
// back to the model. Unknown tools get a generic hint.
func (v *Validator) Hint(toolName string) string {
	if hint, ok := validationHints[toolName]; ok {
		return hint
	}
	return "Hint: check the parameters the tool requires."
}
