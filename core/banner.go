package core

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/coxswain/schema"
)

// buildAgentBanner renders the labeled lines appended to a session's
// scrollback when its agent process spawns.
func buildAgentBanner(now time.Time, agentID schema.AgentID, command string, args []string, cwd string, remote *schema.RemoteConfig) []string {
	labelWidth := maxLabelWidth([]string{"Agent", "Command", "Directory", "Mode"})
	mode := "local"
	if remote != nil && remote.Enabled {
		mode = "remote via " + remote.Target
	}
	commandLine := command
	if len(args) > 0 {
		commandLine = command + " " + strings.Join(args, " ")
	}
	lines := []string{
		fmt.Sprintf("%s starting agent", now.Format("15:04:05")),
	}
	lines = append(lines, formatLabeledLines("Agent", []string{string(agentID)}, labelWidth)...)
	lines = append(lines, formatLabeledLines("Command", []string{commandLine}, labelWidth)...)
	lines = append(lines, formatLabeledLines("Directory", []string{cwd}, labelWidth)...)
	lines = append(lines, formatLabeledLines("Mode", []string{mode}, labelWidth)...)
	return lines
}

func maxLabelWidth(labels []string) int {
	max := 0
	for _, label := range labels {
		if label == "" {
			continue
		}
		width := len(label) + 1
		if width > max {
			max = width
		}
	}
	return max
}

func formatLabeledLines(label string, values []string, labelWidth int) []string {
	if labelWidth <= 0 {
		labelWidth = len(label) + 1
	}
	if len(values) == 0 {
		values = []string{"(unknown)"}
	}
	lines := make([]string, 0, len(values))
	prefix := fmt.Sprintf("%-*s ", labelWidth, label+":")
	indent := strings.Repeat(" ", len(prefix))
	for i, value := range values {
		if strings.TrimSpace(value) == "" {
			value = "(unknown)"
		}
		if i == 0 {
			lines = append(lines, prefix+value)
		} else {
			lines = append(lines, indent+value)
		}
	}
	return lines
}
