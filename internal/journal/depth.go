package journal

import (
	"bytes"
	"os"

	"github.com/hpungsan/scribe/internal/event"
)

// resetMarkers identify compact/clear session starts in raw journal text.
// Both spacing variants are matched so journals written by other tooling
// still count. These markers only occur inside SessionStart payloads.
var resetMarkers = [][]byte{
	[]byte(`"source":"compact"`),
	[]byte(`"source":"clear"`),
	[]byte(`"source": "compact"`),
	[]byte(`"source": "clear"`),
}

// countResets counts the context resets recorded in a journal file. The
// count is derived from the file content on every append rather than kept
// as separate state, so it survives crashes and external writers. A missing
// file counts as zero.
func countResets(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range resetMarkers {
		n += bytes.Count(data, m)
	}
	return n, nil
}

// isReset reports whether ev marks a context reset, that is a SessionStart
// whose source is compact or clear.
func isReset(ev *event.Event) bool {
	if ev.Type != event.TypeSessionStart {
		return false
	}
	p, ok := event.DecodePayload(ev.Type, ev.Payload).(event.SessionStartPayload)
	if !ok {
		return false
	}
	return p.Source == "compact" || p.Source == "clear"
}
