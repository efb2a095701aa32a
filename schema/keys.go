package schema

import "strings"

// TerminalKeyMarker is the infix that joins a session id and a tab id
// into a terminal process key. The exact text is a cross-boundary
// contract: event stream keys, registry keys, and frontend display
// keys all carry it identically.
const TerminalKeyMarker = "-terminal-"

// ComposeTerminalKey builds the process key for a terminal tab.
func ComposeTerminalKey(sessionID SessionID, tabID TabID) ProcessKey {
	return ProcessKey(string(sessionID) + TerminalKeyMarker + string(tabID))
}

// SplitTerminalKey decodes a composite terminal key. It splits at the
// first occurrence of the marker; session ids that themselves contain
// the marker stay ambiguous on purpose (existing behavior). The third
// return is false for any string without the marker, including bare
// session ids.
func SplitTerminalKey(key ProcessKey) (SessionID, TabID, bool) {
	raw := string(key)
	idx := strings.Index(raw, TerminalKeyMarker)
	if idx < 0 {
		return "", "", false
	}
	return SessionID(raw[:idx]), TabID(raw[idx+len(TerminalKeyMarker):]), true
}
