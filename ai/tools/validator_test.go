package tools

import (
	"strings"
	"testing"
)

func TestValidator_DeviceControlRequiresName(t *testing.T) {
	v := NewValidator()

	for _, name := range []string{"HassTurnOn", "HassTurnOff", "HassLightSet", "HassVacuumStart"} {
		ok, msg := v.Validate(NewNativeCall("c1", name, `{}`))
		if ok {
			t.Errorf("%s without 'name' must be rejected", name)
		}
		if !strings.HasPrefix(msg, ErrorMarker) {
			t.Errorf("%s rejection message %q must carry the error marker", name, msg)
		}
		if !strings.Contains(msg, ContextFetchTool) {
			t.Errorf("%s rejection message should point at %s", name, ContextFetchTool)
		}
	}

	ok, msg := v.Validate(NewNativeCall("c2", "HassTurnOn", `{"name":"Desk Lamp","domain":"light"}`))
	if !ok {
		t.Errorf("valid control call rejected: %s", msg)
	}
}

func TestValidator_EmptyNameRejected(t *testing.T) {
	v := NewValidator()
	if ok, _ := v.Validate(NewNativeCall("c1", "HassTurnOn", `{"name":""}`)); ok {
		t.Error("empty 'name' must be rejected, not just missing")
	}
}

func TestValidator_MissingDomainIsSoft(t *testing.T) {
	v := NewValidator()
	if ok, msg := v.Validate(NewNativeCall("c1", "HassTurnOn", `{"name":"Desk Lamp"}`)); !ok {
		t.Errorf("missing 'domain' must only warn, got rejection: %s", msg)
	}
}

func TestValidator_ContextFetchAlwaysValid(t *testing.T) {
	v := NewValidator()
	for _, args := range []string{``, `{}`, `{"area":"kitchen"}`} {
		if ok, msg := v.Validate(NewNativeCall("c1", ContextFetchTool, args)); !ok {
			t.Errorf("%s with args %q rejected: %s", ContextFetchTool, args, msg)
		}
	}
}

func TestValidator_SearchRequiresQuery(t *testing.T) {
	v := NewValidator()

	for _, name := range []string{"search", "ddg_search"} {
		if ok, _ := v.Validate(NewNativeCall("c1", name, `{}`)); ok {
			t.Errorf("%s without 'query' must be rejected", name)
		}
		if ok, _ := v.Validate(NewNativeCall("c2", name, `{"query":""}`)); ok {
			t.Errorf("%s with empty 'query' must be rejected", name)
		}
		if ok, msg := v.Validate(NewNativeCall("c3", name, `{"query":"weather Rome"}`)); !ok {
			t.Errorf("%s with query rejected: %s", name, msg)
		}
	}

	// A time-shaped query is suspicious but still valid.
	if ok, msg := v.Validate(NewNativeCall("c4", "search", `{"query":"what time is it"}`)); !ok {
		t.Errorf("time-shaped search query must only warn, got rejection: %s", msg)
	}
}

func TestValidator_ConvertTimeRequiresZonesAndTime(t *testing.T) {
	v := NewValidator()

	ok, msg := v.Validate(NewNativeCall("c1", "convert_time", `{"from_timezone":"UTC"}`))
	if ok {
		t.Fatal("convert_time with missing parameters must be rejected")
	}
	if !strings.Contains(msg, "to_timezone") || !strings.Contains(msg, "time") {
		t.Errorf("rejection must name the missing parameters, got %q", msg)
	}

	ok, msg = v.Validate(NewNativeCall("c2", "convert_time",
		`{"from_timezone":"UTC","to_timezone":"Europe/Rome","time":"14:30"}`))
	if !ok {
		t.Errorf("complete convert_time call rejected: %s", msg)
	}
}

func TestValidator_GetCurrentTimeTimezoneIsSoft(t *testing.T) {
	v := NewValidator()
	if ok, msg := v.Validate(NewNativeCall("c1", "get_current_time", `{}`)); !ok {
		t.Errorf("missing 'timezone' must only warn, got rejection: %s", msg)
	}
}

func TestValidator_MalformedJSONRejected(t *testing.T) {
	v := NewValidator()
	ok, msg := v.Validate(NewNativeCall("c1", "search", `{"query":`))
	if ok {
		t.Fatal("malformed JSON arguments must be rejected")
	}
	if !strings.HasPrefix(msg, ErrorMarker) {
		t.Errorf("message %q must carry the error marker", msg)
	}
}

func TestValidator_UnknownToolsPass(t *testing.T) {
	v := NewValidator()
	if ok, msg := v.Validate(NewNativeCall("c1", "play_music", `{"track":"foo"}`)); !ok {
		t.Errorf("unknown tool must pass through, got rejection: %s", msg)
	}
}

func TestValidator_Hints(t *testing.T) {
	v := NewValidator()

	if hint := v.Hint("HassTurnOn"); !strings.Contains(hint, ContextFetchTool) {
		t.Errorf("device-control hint should reference %s, got %q", ContextFetchTool, hint)
	}
	if hint := v.Hint("search"); !strings.Contains(hint, "query") {
		t.Errorf("search hint should reference 'query', got %q", hint)
	}
	if hint := v.Hint("never_heard_of_it"); hint == "" {
		t.Error("unknown tools must still get a generic hint")
	}
}

func TestIsDeviceControl(t *testing.T) {
	if !IsDeviceControl("HassTurnOn") || !IsDeviceControl("HassVacuumStart") {
		t.Error("Hass-prefixed tools are device control")
	}
	if IsDeviceControl("search") || IsDeviceControl("get_current_time") {
		t.Error("non-Hass tools are not device control")
	}
}
