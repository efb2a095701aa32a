package core

import (
	"context"

	"pkt.systems/coxswain/schema"
)

// Service is the transport-agnostic API for sessions, terminal tabs,
// and the PTY process registry. Registry operations report expected
// failures (unknown key, failed OS call) as typed response values; the
// error return is reserved for request validation.
type Service interface {
	CreateSession(ctx context.Context, req schema.CreateSessionRequest) (schema.CreateSessionResponse, error)
	ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error)
	CloseSession(ctx context.Context, req schema.CloseSessionRequest) (schema.CloseSessionResponse, error)

	CreateTerminalTab(ctx context.Context, req schema.CreateTerminalTabRequest) (schema.CreateTerminalTabResponse, error)
	ActivateTerminalTab(ctx context.Context, req schema.ActivateTerminalTabRequest) (schema.ActivateTerminalTabResponse, error)
	RetryTerminalTab(ctx context.Context, req schema.RetryTerminalTabRequest) (schema.RetryTerminalTabResponse, error)
	CloseTerminalTab(ctx context.Context, req schema.CloseTerminalTabRequest) (schema.CloseTerminalTabResponse, error)
	CloseOtherTabs(ctx context.Context, req schema.CloseOtherTabsRequest) (schema.CloseOtherTabsResponse, error)
	CloseTabsToRight(ctx context.Context, req schema.CloseTabsToRightRequest) (schema.CloseTabsToRightResponse, error)
	ReopenTerminalTab(ctx context.Context, req schema.ReopenTerminalTabRequest) (schema.ReopenTerminalTabResponse, error)
	SetTabName(ctx context.Context, req schema.SetTabNameRequest) (schema.SetTabNameResponse, error)

	Spawn(ctx context.Context, req schema.SpawnRequest) (schema.SpawnResponse, error)
	SpawnTerminalTab(ctx context.Context, req schema.SpawnTerminalTabRequest) (schema.SpawnTerminalTabResponse, error)
	StartAgent(ctx context.Context, req schema.StartAgentRequest) (schema.StartAgentResponse, error)
	WriteProcess(ctx context.Context, req schema.WriteProcessRequest) (schema.WriteProcessResponse, error)
	ResizeProcess(ctx context.Context, req schema.ResizeProcessRequest) (schema.ResizeProcessResponse, error)
	InterruptProcess(ctx context.Context, req schema.InterruptProcessRequest) (schema.InterruptProcessResponse, error)
	KillProcess(ctx context.Context, req schema.KillProcessRequest) (schema.KillProcessResponse, error)
	KillAllProcesses(ctx context.Context, req schema.KillAllProcessesRequest) (schema.KillAllProcessesResponse, error)
	GetProcess(ctx context.Context, req schema.GetProcessRequest) (schema.GetProcessResponse, error)
	ListProcesses(ctx context.Context, req schema.ListProcessesRequest) (schema.ListProcessesResponse, error)

	GetBuffer(ctx context.Context, req schema.GetBufferRequest) (schema.GetBufferResponse, error)
	GetHistory(ctx context.Context, req schema.GetHistoryRequest) (schema.GetHistoryResponse, error)
	AppendHistory(ctx context.Context, req schema.AppendHistoryRequest) (schema.AppendHistoryResponse, error)
	RecordUsage(ctx context.Context, req schema.RecordUsageRequest) (schema.RecordUsageResponse, error)
	GetSessionUsage(ctx context.Context, req schema.GetSessionUsageRequest) (schema.GetSessionUsageResponse, error)
	ListAgents(ctx context.Context, req schema.ListAgentsRequest) (schema.ListAgentsResponse, error)

	// Close kills every registered process for every user and flushes
	// pending output. The service is unusable afterwards.
	Close() error
}
