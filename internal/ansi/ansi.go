// Package ansi filters terminal control sequences out of process
// output destined for log-style display.
package ansi

import "strings"

// Filter removes control sequences from s while preserving SGR
// color and style sequences byte-for-byte. OSC sequences (terminated
// by BEL or ST), non-SGR CSI sequences (cursor movement, erase,
// scroll regions, private modes), lone two-byte escapes, and stray
// control bytes are dropped. Newlines, carriage returns, and tabs
// survive.
func Filter(s string) string {
	return scan(s, true)
}

// Strip removes everything Filter removes plus the SGR sequences
// themselves, leaving printable text only.
func Strip(s string) string {
	return scan(s, false)
}

func scan(s string, keepSGR bool) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		ch := s[i]
		if ch == 0x1b {
			if i+1 >= len(s) {
				i++
				continue
			}
			switch s[i+1] {
			case '[':
				end := skipCSI(s, i+2)
				if keepSGR && end > i+2 && s[end-1] == 'm' {
					b.WriteString(s[i:end])
				}
				i = end
			case ']':
				i = skipOSC(s, i+2)
			default:
				i += 2
			}
			continue
		}
		if ch == '\n' || ch == '\r' || ch == '\t' {
			b.WriteByte(ch)
			i++
			continue
		}
		if ch < 0x20 || ch == 0x7f {
			i++
			continue
		}
		b.WriteByte(ch)
		i++
	}
	return b.String()
}

func skipCSI(s string, i int) int {
	for i < len(s) {
		b := s[i]
		if b >= 0x40 && b <= 0x7e {
			return i + 1
		}
		i++
	}
	return i
}

func skipOSC(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case 0x07:
			return i + 1
		case 0x1b:
			if i+1 < len(s) && s[i+1] == '\\' {
				return i + 2
			}
		}
		i++
	}
	return i
}
