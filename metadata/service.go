package metadata

import (
	"context"
	"fmt"
	"time"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/model"
	c "github.com/patrickmn/go-cache"
)

type Service interface {
	GetFlow(ctx context.Context, definitionId string) (*Flow, error)
	GetAgentVersion(ctx context.Context, id string) (*model.AgentVersion, error)
	ValidateFlow(ctx context.Context, def model.FlowDefinition) error
	SaveFlow(ctx context.Context, def model.FlowDefinition) error
	SaveAgent(ctx context.Context, agent model.AgentVersion) error
	GetStorage() Storage
}

type ServiceImpl struct {
	storage Storage
	flows   *c.Cache
	agents  *c.Cache
}

var _ Service = new(ServiceImpl)

func NewService(storage Storage) *ServiceImpl {
	return &ServiceImpl{
		storage: storage,
		flows:   c.New(30*time.Minute, 10*time.Minute),
		agents:  c.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *ServiceImpl) GetFlow(ctx context.Context, definitionId string) (*Flow, error) {
	if cached, found := s.flows.Get(definitionId); found {
		return cached.(*Flow), nil
	}
	def, err := s.storage.GetFlowDefinition(ctx, definitionId)
	if err != nil {
		return nil, err
	}
	fl, err := Compile(*def)
	if err != nil {
		return nil, fmt.Errorf("stored flow %s is invalid: %w", definitionId, err)
	}
	s.flows.SetDefault(definitionId, fl)
	return fl, nil
}

func (s *ServiceImpl) GetAgentVersion(ctx context.Context, id string) (*model.AgentVersion, error) {
	if cached, found := s.agents.Get(id); found {
		agent := cached.(model.AgentVersion)
		return &agent, nil
	}
	agent, err := s.storage.GetAgentVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	s.agents.SetDefault(id, *agent)
	return agent, nil
}

func (s *ServiceImpl) ValidateFlow(ctx context.Context, def model.FlowDefinition) error {
	fl, err := Compile(def)
	if err != nil {
		return err
	}
	for _, id := range fl.AgentVersionIds() {
		if _, err := s.GetAgentVersion(ctx, id); err != nil {
			if api.IsNotFound(err) {
				return api.ValidationError{Field: "agentVersionId", Message: fmt.Sprintf("agent version %s not registered", id)}
			}
			return err
		}
	}
	return nil
}

func (s *ServiceImpl) SaveFlow(ctx context.Context, def model.FlowDefinition) error {
	if err := s.ValidateFlow(ctx, def); err != nil {
		return err
	}
	if err := s.storage.SaveFlowDefinition(ctx, def); err != nil {
		return err
	}
	s.flows.Delete(def.Id)
	return nil
}

func (s *ServiceImpl) SaveAgent(ctx context.Context, agent model.AgentVersion) error {
	if err := ValidateAgent(agent); err != nil {
		return err
	}
	if err := s.storage.SaveAgentVersion(ctx, agent); err != nil {
		return err
	}
	s.agents.Delete(agent.Id)
	return nil
}

func (s *ServiceImpl) GetStorage() Storage {
	return s.storage
}

func ValidateAgent(agent model.AgentVersion) error {
	if agent.Id == "" {
		return api.ValidationError{Field: "id", Message: "agent version id can not be empty"}
	}
	if agent.ProviderId == "" {
		return api.ValidationError{Field: "providerId", Message: "can not be empty"}
	}
	if agent.ModelId == "" {
		return api.ValidationError{Field: "modelId", Message: "can not be empty"}
	}
	switch agent.Status {
	case model.AGENT_DRAFT, model.AGENT_PUBLISHED, model.AGENT_DEPRECATED:
	default:
		return api.ValidationError{Field: "status", Message: fmt.Sprintf("unknown agent status %q", agent.Status)}
	}
	return nil
}
