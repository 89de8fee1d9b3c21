package metadata

import (
	"context"

	"github.com/mohitkumar/agentflow/model"
)

type Storage interface {
	SaveFlowDefinition(ctx context.Context, def model.FlowDefinition) error
	DeleteFlowDefinition(ctx context.Context, id string) error
	GetFlowDefinition(ctx context.Context, id string) (*model.FlowDefinition, error)
	SaveAgentVersion(ctx context.Context, agent model.AgentVersion) error
	DeleteAgentVersion(ctx context.Context, id string) error
	GetAgentVersion(ctx context.Context, id string) (*model.AgentVersion, error)
}
