package core

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/coxswain/schema"
)

// agentErrorPatterns maps recent-output substrings to failure
// classifications. Scanned in order against the lowercased tail of the
// process output; first match wins.
var agentErrorPatterns = []struct {
	needle string
	typ    schema.AgentErrorType
}{
	{"authentication_error", schema.AgentErrAuthExpired},
	{"invalid api key", schema.AgentErrAuthExpired},
	{"api key expired", schema.AgentErrAuthExpired},
	{"token has expired", schema.AgentErrAuthExpired},
	{"please run /login", schema.AgentErrAuthExpired},
	{"not logged in", schema.AgentErrAuthExpired},
	{"unauthorized", schema.AgentErrAuthExpired},
	{"rate_limit_error", schema.AgentErrRateLimited},
	{"rate limit", schema.AgentErrRateLimited},
	{"too many requests", schema.AgentErrRateLimited},
	{"quota exceeded", schema.AgentErrRateLimited},
	{"overloaded_error", schema.AgentErrRateLimited},
	{"connection refused", schema.AgentErrNetwork},
	{"connection reset", schema.AgentErrNetwork},
	{"no such host", schema.AgentErrNetwork},
	{"network is unreachable", schema.AgentErrNetwork},
	{"i/o timeout", schema.AgentErrNetwork},
	{"tls handshake", schema.AgentErrNetwork},
	{"econnrefused", schema.AgentErrNetwork},
	{"etimedout", schema.AgentErrNetwork},
}

// classifyAgentError turns a nonzero agent exit into a typed error by
// scanning the recent output tail, falling back to a generic crash.
func classifyAgentError(exitCode int, tail string) schema.AgentError {
	lowered := strings.ToLower(tail)
	typ := schema.AgentErrCrashed
	for _, pattern := range agentErrorPatterns {
		if strings.Contains(lowered, pattern.needle) {
			typ = pattern.typ
			break
		}
	}
	return schema.AgentError{
		Type:        typ,
		Message:     agentErrorMessage(typ, exitCode),
		Recoverable: typ.Recoverable(),
		Timestamp:   time.Now(),
	}
}

func agentErrorMessage(typ schema.AgentErrorType, exitCode int) string {
	switch typ {
	case schema.AgentErrAuthExpired:
		return "agent credentials expired or missing"
	case schema.AgentErrRateLimited:
		return "agent provider rate limited the request"
	case schema.AgentErrNetwork:
		return "agent could not reach its provider"
	default:
		return fmt.Sprintf("agent exited with code %d", exitCode)
	}
}
