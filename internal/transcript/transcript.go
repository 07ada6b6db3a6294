// Package transcript renders a conversation's journal into a human-readable
// markdown report, grouping events into prompt, tool use, response
// exchanges. The HTML form runs the same report through goldmark.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/scribe/internal/event"
)

var emojis = map[event.Type]string{
	event.TypeSessionStart:      "💫",
	event.TypeSessionEnd:        "⭐",
	event.TypeUserPromptSubmit:  "🍄",
	event.TypePreToolUse:        "🔨",
	event.TypePostToolUse:       "🏰",
	event.TypeNotification:      "🟡",
	event.TypePreCompact:        "♻️",
	event.TypeStop:              "🟢",
	event.TypeSubagentStop:      "🔵",
	event.TypeAssistantResponse: "🌲",
}

// RegenerateOn reports whether an event of type t should refresh the
// conversation's markdown file. Tool events fire too often to be worth a
// rewrite; the exchange they belong to lands with its Stop.
func RegenerateOn(t event.Type) bool {
	switch t {
	case event.TypeSessionStart, event.TypeUserPromptSubmit, event.TypeStop,
		event.TypeSessionEnd, event.TypeSubagentStop, event.TypeNotification:
		return true
	}
	return false
}

// Markdown renders the full report for one conversation's events, in
// journal order.
func Markdown(conversationID string, events []event.Event) string {
	if len(events) == 0 {
		return ""
	}

	short := conversationID
	if len(short) > 8 {
		short = short[:8]
	}
	resets := events[0].Depth

	lines := []string{
		fmt.Sprintf("# Conversation %s:%d", short, resets),
		fmt.Sprintf("**ID:** `%s`", conversationID),
		fmt.Sprintf("**Context resets:** %d", resets),
		fmt.Sprintf("**Started:** %s", events[0].TS.UTC().Format("2006-01-02 15:04:05")),
		"",
		"---",
		"",
	}

	// Exchange state: a UserPromptSubmit opens an exchange that accumulates
	// tool activity and subagent completions until the AssistantResponse
	// closes it.
	var (
		havePrompt  bool
		promptClock string
		promptText  string
		toolOrder   []string
		toolCounts  map[string]int
		toolDetails []string
		subagents   []string
	)

	for _, ev := range events {
		clock := ev.TS.UTC().Format("15:04:05")

		switch ev.Type {
		case event.TypeUserPromptSubmit:
			havePrompt = true
			promptClock = clock
			promptText = ""
			if p, ok := event.DecodePayload(ev.Type, ev.Payload).(event.PromptPayload); ok {
				promptText = string(p.Prompt)
			}
			toolOrder = nil
			toolCounts = make(map[string]int)
			toolDetails = nil
			subagents = nil

		case event.TypePreToolUse:
			if !havePrompt {
				continue
			}
			p, ok := event.DecodePayload(ev.Type, ev.Payload).(event.ToolUsePayload)
			if !ok {
				continue
			}
			name := p.ToolName
			if name == "" {
				name = "?"
			}
			// AskUserQuestion renders as Q&A from its result instead.
			if name == "AskUserQuestion" {
				continue
			}
			if preview := toolPreview(p.ToolInput); preview != "" {
				toolDetails = append(toolDetails, fmt.Sprintf("- %s `%s`", name, preview))
			} else {
				toolDetails = append(toolDetails, "- "+name)
			}

		case event.TypePostToolUse:
			if !havePrompt {
				continue
			}
			p, ok := event.DecodePayload(ev.Type, ev.Payload).(event.ToolResultPayload)
			if !ok {
				continue
			}
			name := p.ToolName
			if name == "" {
				name = "?"
			}
			if toolCounts[name] == 0 {
				toolOrder = append(toolOrder, name)
			}
			toolCounts[name]++
			if name == "AskUserQuestion" {
				toolDetails = append(toolDetails, answeredQuestions(p.ToolResponse)...)
			}

		case event.TypeSubagentStop:
			label := subagentLabel(clock, ev.Payload)
			if havePrompt {
				subagents = append(subagents, label)
			} else {
				lines = append(lines, label)
			}

		case event.TypeAssistantResponse:
			if havePrompt {
				lines = append(lines, "", "---", "",
					fmt.Sprintf("`%s` 🍄 User", promptClock), quote(promptText), "")

				if len(toolCounts) > 0 {
					total := 0
					for _, c := range toolCounts {
						total += c
					}
					lines = append(lines,
						"<details>",
						fmt.Sprintf("<summary>📦 %d tools: %s</summary>", total, toolSummary(toolOrder, toolCounts)),
						"")
					lines = append(lines, toolDetails...)
					lines = append(lines, "", "</details>", "")
				}
				for _, label := range subagents {
					lines = append(lines, label)
				}
				havePrompt = false
			}

			response := ""
			if p, ok := event.DecodePayload(ev.Type, ev.Payload).(event.ResponsePayload); ok {
				response = p.Response
				if response == "" {
					response = p.Content
				}
			}
			lines = append(lines,
				"<details>",
				fmt.Sprintf("<summary>`%s` 🌲 Assistant</summary>", clock),
				"",
				quote(response),
				"",
				"</details>",
				"")

		case event.TypeSessionStart, event.TypeSessionEnd, event.TypeNotification, event.TypePreCompact:
			info := ""
			switch p := event.DecodePayload(ev.Type, ev.Payload).(type) {
			case event.SessionStartPayload:
				info = p.Source
			case event.NotificationPayload:
				info = p.Message
			}
			line := fmt.Sprintf("`%s` %s %s %s", clock, emojis[ev.Type], ev.Type, info)
			lines = append(lines, strings.TrimRight(line, " "))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// HTML renders the markdown report as an HTML document body.
func HTML(conversationID string, events []event.Event) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(conversationID, events)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// quote turns text into a markdown blockquote, line by line.
func quote(text string) string {
	parts := strings.Split(text, "\n")
	for i, p := range parts {
		parts[i] = "> " + p
	}
	return strings.Join(parts, "\n")
}

// toolPreview pulls a short argument preview out of a tool input, trying
// the common argument keys in a fixed order.
func toolPreview(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	for _, key := range []string{"file_path", "pattern", "query", "command", "prompt"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		val := previewString(v)
		if runes := []rune(val); len(runes) > 80 {
			return string(runes[:80]) + "..."
		}
		return val
	}
	return ""
}

func previewString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// answeredQuestions renders an AskUserQuestion result as inline Q&A lines.
func answeredQuestions(raw json.RawMessage) []string {
	var qa struct {
		Answers   map[string]string `json:"answers"`
		Questions []struct {
			Question string `json:"question"`
			Header   string `json:"header"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(raw, &qa); err != nil {
		return nil
	}

	var out []string
	for _, q := range qa.Questions {
		answer := qa.Answers[q.Question]
		if q.Question == "" || answer == "" {
			continue
		}
		label := ""
		if q.Header != "" {
			label = "**" + q.Header + ":** "
		}
		out = append(out, "- 💬 "+label+q.Question)
		for _, line := range strings.Split(answer, "\n") {
			out = append(out, "  > "+line)
		}
	}
	return out
}

func subagentLabel(clock string, raw json.RawMessage) string {
	id, agentType := "?", ""
	if p, ok := event.DecodePayload(event.TypeSubagentStop, raw).(event.SubagentPayload); ok {
		if p.AgentID != "" {
			id = p.AgentID
		}
		agentType = p.AgentType
	}
	label := fmt.Sprintf("`%s` 🔵 Subagent %s", clock, id)
	if agentType != "" {
		label += fmt.Sprintf(" (%s)", agentType)
	}
	return label
}

// toolSummary lists tools by use count, most used first, ties keeping
// first-use order.
func toolSummary(order []string, counts map[string]int) string {
	names := append([]string(nil), order...)
	sort.SliceStable(names, func(i, j int) bool {
		return counts[names[i]] > counts[names[j]]
	})
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s (%d)", n, counts[n])
	}
	return strings.Join(parts, ", ")
}
