package memory

import (
	"context"
	"sync"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/util"
)

type MetadataStorage struct {
	mu     sync.RWMutex
	flows  map[string][]byte
	agents map[string][]byte

	flowEncDec  util.EncoderDecoder[model.FlowDefinition]
	agentEncDec util.EncoderDecoder[model.AgentVersion]
}

var _ metadata.Storage = new(MetadataStorage)

func NewMetadataStorage() *MetadataStorage {
	return &MetadataStorage{
		flows:       make(map[string][]byte),
		agents:      make(map[string][]byte),
		flowEncDec:  util.NewJsonEncoderDecoder[model.FlowDefinition](),
		agentEncDec: util.NewJsonEncoderDecoder[model.AgentVersion](),
	}
}

func (m *MetadataStorage) SaveFlowDefinition(ctx context.Context, def model.FlowDefinition) error {
	data, err := m.flowEncDec.Encode(def)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[def.Id] = data
	return nil
}

func (m *MetadataStorage) DeleteFlowDefinition(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flows, id)
	return nil
}

func (m *MetadataStorage) GetFlowDefinition(ctx context.Context, id string) (*model.FlowDefinition, error) {
	m.mu.RLock()
	data, ok := m.flows[id]
	m.mu.RUnlock()
	if !ok {
		return nil, api.NotFoundError{Kind: "flow definition", Id: id}
	}
	return m.flowEncDec.Decode(data)
}

func (m *MetadataStorage) SaveAgentVersion(ctx context.Context, agent model.AgentVersion) error {
	data, err := m.agentEncDec.Encode(agent)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.Id] = data
	return nil
}

func (m *MetadataStorage) DeleteAgentVersion(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

func (m *MetadataStorage) GetAgentVersion(ctx context.Context, id string) (*model.AgentVersion, error) {
	m.mu.RLock()
	data, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, api.NotFoundError{Kind: "agent version", Id: id}
	}
	return m.agentEncDec.Decode(data)
}
