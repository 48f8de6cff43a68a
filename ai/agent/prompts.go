package agent

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// acknowledgmentTemplates are the canned phrases emitted before tool work
// starts. Template-based on purpose: a model-generated acknowledgment adds a
// full completion of latency before any real work begins.
var acknowledgmentTemplates = []string{
	"Sure, on it!",
	"Okay, one moment!",
	"Got it, let me take care of that!",
	"Alright, doing that now!",
	"One second...",
	"Working on it!",
	"Okay, here we go!",
}

// Acknowledgment picks a canned pre-execution phrase.
func Acknowledgment() string {
	return acknowledgmentTemplates[rand.IntN(len(acknowledgmentTemplates))]
}

// ExecutionFeedback renders a user-facing progress line for a running tool.
func ExecutionFeedback(toolName string, args map[string]any) string {
	str := func(key string) string {
		s, _ := args[key].(string)
		return s
	}

	switch toolName {
	case "search", "ddg_search":
		if q := str("query"); q != "" {
			return fmt.Sprintf("Searching for %q...", q)
		}
		return "Searching..."
	case "get_current_time":
		return "Checking the time..."
	case "convert_time":
		return "Converting the timezone..."
	case "fetch_content":
		if u := str("url"); u != "" {
			return fmt.Sprintf("Fetching content from %s...", u)
		}
		return "Fetching content..."
	case "GetLiveContext":
		if area := str("area"); area != "" {
			return fmt.Sprintf("Checking the devices in %s...", area)
		}
		return "Checking the available devices..."
	case "HassTurnOn":
		if n := str("name"); n != "" {
			return fmt.Sprintf("Turning on %s...", n)
		}
		return "Turning it on..."
	case "HassTurnOff":
		if n := str("name"); n != "" {
			return fmt.Sprintf("Turning off %s...", n)
		}
		return "Turning it off..."
	case "HassLightSet":
		if n := str("name"); n != "" {
			return fmt.Sprintf("Adjusting %s...", n)
		}
		return "Adjusting the light..."
	}
	return fmt.Sprintf("Running %s...", toolName)
}

// toolSystemPrompt is the minimal technical system prompt for the
// tool-specialized model. The conversational persona is deliberately absent:
// mixing "friendly assistant" with "execute tools precisely" degrades both.
const toolSystemPrompt = `You are a technical tool execution agent. Your ONLY job is to call the appropriate tools with correct parameters based on the user's request.

CRITICAL RULES:
1. Do NOT engage in conversation or provide text responses
2. Do NOT make assumptions about device names, locations, or parameters
3. ALWAYS call GetLiveContext first for device-control commands
4. Use EXACT names and domains from GetLiveContext results
5. For weather queries, use search tools, NOT time tools
6. For clock-time queries, use the get_current_time tool
7. Follow the tool guidance instructions exactly as written

Your output should ONLY be tool calls, nothing else.`

// toolGuidance is prepended to the tool model's system prompt. It encodes the
// mandatory discovery-then-act sequence and the query disambiguation rules.
const toolGuidance = `CRITICAL TOOL USAGE RULES - FOLLOW EXACTLY!

DEVICE CONTROL - MANDATORY TWO-STEP PROCESS:

For ANY device-control command (HassTurnOn, HassTurnOff, HassLightSet):
YOU MUST CALL GetLiveContext() FIRST - NO EXCEPTIONS!

Device names are EXACT and TECHNICAL. "the lights" is NOT a device name.
"bedroom light" is NOT a device name. You MUST get the REAL names from
GetLiveContext first.

MANDATORY PROCESS:
1. User asks to control a device
2. YOU: call GetLiveContext() - no parameters needed
3. READ the results carefully to find matching devices
4. YOU: call HassTurnOn/HassTurnOff with the EXACT name and domain from the results

WRONG (will fail): HassTurnOn(name="speaker") - guessed name!
RIGHT: GetLiveContext() -> read results -> use EXACT names

The domain is TECHNICAL, not functional: a speaker can be domain "switch",
not "media_player". Copy it precisely. DO NOT use the device_class parameter.

QUERY DISAMBIGUATION:

Weather queries are SEARCH, not time:
- "what's the weather like" -> search(query="weather forecast")
- "will it rain tomorrow" -> search(query="weather forecast tomorrow")
- NEVER use get_current_time for weather queries!

Clock-time queries use the time tool:
- "what time is it" -> get_current_time(timezone="Europe/Rome")
- NEVER use search for clock-time queries!

SEARCH QUERIES (search, weather, news, find):
Use the "search" or "ddg_search" tool to search the web for current information.

TIME QUERIES (what time, current time):
Use the "get_current_time" tool with an IANA timezone.`

// ToolModelSystemPrompt assembles the tool model's full system prompt. An
// optional backend prompt string (tool schemas rendered as text) is appended
// for prompt-mode backends.
func ToolModelSystemPrompt(backendPrompt string) string {
	if backendPrompt != "" {
		return toolGuidance + "\n" + toolSystemPrompt + "\n\n" + backendPrompt
	}
	return toolGuidance + "\n" + toolSystemPrompt
}

// ValidationFailureMessage combines every validation error and its hint into
// the single feedback message appended to the transcript in place of an
// execution attempt.
func ValidationFailureMessage(failures []string, hints []string) string {
	var b strings.Builder
	b.WriteString("Validation errors before execution:\n\n")
	b.WriteString(strings.Join(failures, "\n"))
	if len(hints) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(hints, "\n"))
	}
	b.WriteString(`

IMPORTANT: These errors were detected BEFORE execution. Fix the parameters and try again.

Reminders:
1. For device control: always call GetLiveContext() first to see the available devices
2. For searches: make sure the 'query' parameter is present
3. For time: use get_current_time with an IANA timezone
4. Do NOT use the 'device_class' parameter

Retry with the correct parameters.`)
	return b.String()
}

// RetryGuidanceDeviceControl is appended after a failed device-control call
// once the automatic context fetch has put a fresh device listing in the
// transcript.
func RetryGuidanceDeviceControl(attempt, maxAttempts int) string {
	return fmt.Sprintf(`The previous device-control tool call failed. Error details are above.

GetLiveContext has been called for you - the results are in the tool response above showing ALL available devices.

CRITICAL RETRY INSTRUCTIONS (Attempt %d/%d):
1. READ the GetLiveContext results carefully - they show the EXACT device names and domains available
2. Find the device the user wants to control in the GetLiveContext results
3. Use the EXACT name and domain from GetLiveContext (copy them precisely!)
4. DO NOT use the device_class parameter
5. DO NOT guess or make up device names

Example:
- If GetLiveContext shows: {"name": "Speaker Switch", "domain": "switch"}
- Use: HassTurnOn(name="Speaker Switch", domain="switch")

Now retry the device command using the EXACT information from GetLiveContext above.`, attempt, maxAttempts)
}

// RetryGuidanceAfterContextFailure covers the case where the automatic
// context fetch itself returned nothing useful.
func RetryGuidanceAfterContextFailure(attempt, maxAttempts int) string {
	return fmt.Sprintf(`The previous tool call failed. Error details are in the tool results above.
Attempt %d/%d: Please analyze the error and try again with a different approach.`, attempt, maxAttempts)
}

// RetryGuidanceGeneric is appended after a failed non-device-control call.
func RetryGuidanceGeneric(attempt, maxAttempts int) string {
	return fmt.Sprintf(`The previous tool call failed. Error details are in the tool results above.
Attempt %d/%d: Please analyze the error and try again with:
- Different parameter values if the error suggests wrong input
- A different tool if this one isn't working
- A modified approach based on the error message
Be creative and adjust your strategy based on what failed.`, attempt, maxAttempts)
}

// FollowUpPrompt directs the tool model to complete the user's request after
// a successful context-fetch-only turn.
func FollowUpPrompt(originalRequest string) string {
	return fmt.Sprintf(`GetLiveContext has returned the device information above.

NOW YOU MUST COMPLETE THE ORIGINAL REQUEST: %q

CRITICAL - TAKE ACTION NOW:
1. READ the GetLiveContext results above carefully
2. Find the device mentioned in the original request (%q)
3. Call the appropriate device-control tool (HassTurnOn, HassTurnOff, etc.) with the EXACT name and domain from GetLiveContext
4. DO NOT stop after GetLiveContext - you must complete the user's request!

Example:
- User said: "turn off the lights"
- GetLiveContext showed: {"name": "Speaker Switch", "domain": "switch"}
- YOU MUST NOW CALL: HassTurnOff(name="Speaker Switch", domain="switch")

Make the tool call NOW to complete the user's request.`, originalRequest, originalRequest)
}

// ResponseGuidance builds the addendum to the conversational model's system
// prompt for the final narration. multiStep selects the wording for turns
// where a context fetch preceded the real action, so the model narrates the
// LAST result instead of the device listing.
func ResponseGuidance(retries int, multiStep bool) string {
	retryInfo := ""
	if retries > 0 {
		retryInfo = fmt.Sprintf(" (after %d retry attempts)", retries)
	}

	if multiStep {
		return fmt.Sprintf(`IMPORTANT: Check ALL tool execution results carefully.

Multiple tools were executed:
1. GetLiveContext - returned device information
2. The ACTUAL action (HassTurnOn/HassTurnOff/etc.) - this is what the user requested

YOU MUST respond based on the FINAL action result (the last tool result), NOT the GetLiveContext result!

Look at the LAST tool result in the conversation above:
- If it starts with "Error:", the action FAILED%s - inform the user about the failure
- If it doesn't contain errors, the action SUCCEEDED - acknowledge what was done
- DO NOT mention GetLiveContext in your response - the user doesn't care about that internal step
- Focus ONLY on confirming whether their request was completed

Be honest and clear about what actually happened with the user's requested action.`, retryInfo)
	}

	return fmt.Sprintf(`IMPORTANT: Check the tool execution results carefully.
Look at the tool results in the conversation above (role: "tool").
- If the result content starts with "Error:", the tool FAILED%s - inform the user about the failure
- If the result doesn't contain errors, the tool succeeded - acknowledge what was done
- NEVER say something succeeded when the tool result shows "Error:"
- Be honest and clear about what actually happened`, retryInfo)
}
