package redis

import (
	"context"
	"errors"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const FLOW_DEF string = "FLOW_DEF"
const AGENT_DEF string = "AGENT_DEF"

type redisMetadataStorage struct {
	*baseDao
	flowEncoderDecoder  util.EncoderDecoder[model.FlowDefinition]
	agentEncoderDecoder util.EncoderDecoder[model.AgentVersion]
}

var _ metadata.Storage = new(redisMetadataStorage)

func NewRedisMetadataStorage(conf Config) *redisMetadataStorage {
	return newRedisMetadataStorage(newBaseDao(conf))
}

func NewRedisMetadataStorageWithClient(client rd.UniversalClient, namespace string) *redisMetadataStorage {
	return newRedisMetadataStorage(newBaseDaoWithClient(client, namespace))
}

func newRedisMetadataStorage(dao *baseDao) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:             dao,
		flowEncoderDecoder:  util.NewJsonEncoderDecoder[model.FlowDefinition](),
		agentEncoderDecoder: util.NewJsonEncoderDecoder[model.AgentVersion](),
	}
}

func (rfd *redisMetadataStorage) SaveFlowDefinition(ctx context.Context, def model.FlowDefinition) error {
	data, err := rfd.flowEncoderDecoder.Encode(def)
	if err != nil {
		return err
	}
	if err := rfd.redisClient.HSet(ctx, rfd.getNamespaceKey(FLOW_DEF), def.Id, data).Err(); err != nil {
		logger.Error("error in saving flow definition", zap.String("definitionId", def.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) DeleteFlowDefinition(ctx context.Context, id string) error {
	if err := rfd.redisClient.HDel(ctx, rfd.getNamespaceKey(FLOW_DEF), id).Err(); err != nil {
		logger.Error("error in deleting flow definition", zap.String("definitionId", id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) GetFlowDefinition(ctx context.Context, id string) (*model.FlowDefinition, error) {
	data, err := rfd.redisClient.HGet(ctx, rfd.getNamespaceKey(FLOW_DEF), id).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, api.NotFoundError{Kind: "flow definition", Id: id}
	}
	if err != nil {
		logger.Error("error in getting flow definition", zap.String("definitionId", id), zap.Error(err))
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return rfd.flowEncoderDecoder.Decode(data)
}

func (rfd *redisMetadataStorage) SaveAgentVersion(ctx context.Context, agent model.AgentVersion) error {
	data, err := rfd.agentEncoderDecoder.Encode(agent)
	if err != nil {
		return err
	}
	if err := rfd.redisClient.HSet(ctx, rfd.getNamespaceKey(AGENT_DEF), agent.Id, data).Err(); err != nil {
		logger.Error("error in saving agent version", zap.String("agentVersionId", agent.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) DeleteAgentVersion(ctx context.Context, id string) error {
	if err := rfd.redisClient.HDel(ctx, rfd.getNamespaceKey(AGENT_DEF), id).Err(); err != nil {
		logger.Error("error in deleting agent version", zap.String("agentVersionId", id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) GetAgentVersion(ctx context.Context, id string) (*model.AgentVersion, error) {
	data, err := rfd.redisClient.HGet(ctx, rfd.getNamespaceKey(AGENT_DEF), id).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, api.NotFoundError{Kind: "agent version", Id: id}
	}
	if err != nil {
		logger.Error("error in getting agent version", zap.String("agentVersionId", id), zap.Error(err))
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return rfd.agentEncoderDecoder.Decode(data)
}
