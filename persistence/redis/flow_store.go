package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	SESSION                  string = "SESSION"
	EXECUTION                string = "EXECUTION"
	SESSION_EXECUTIONS       string = "SESSION_EXECUTIONS"
	EVENTS                   string = "EVENTS"
	EVENT_SEQ                string = "EVENT_SEQ"
	INTERACTION              string = "INTERACTION"
	INTERACTION_BY_EXECUTION string = "INTERACTION_BY_EXECUTION"
	INTERACTION_PENDING      string = "INTERACTION_PENDING"
	INTERACTION_DUE          string = "INTERACTION_DUE"
	INTERACTION_RESPONSE     string = "INTERACTION_RESPONSE"
)

// Storage keeps sessions, executions, events, interaction rows and jobs in
// redis. Every Commit is one MULTI/EXEC guarded by WATCH on the session key.
type Storage struct {
	*baseDao
	sessionEncDec   util.EncoderDecoder[model.FlowSession]
	executionEncDec util.EncoderDecoder[model.FlowStepExecution]
	eventEncDec     util.EncoderDecoder[model.FlowEvent]
	requestEncDec   util.EncoderDecoder[model.FlowInteractionRequest]
	responseEncDec  util.EncoderDecoder[model.FlowInteractionResponse]
}

var _ persistence.Storage = new(Storage)

func NewStorage(conf Config) *Storage {
	return newStorage(newBaseDao(conf))
}

func NewStorageWithClient(client rd.UniversalClient, namespace string) *Storage {
	return newStorage(newBaseDaoWithClient(client, namespace))
}

func newStorage(dao *baseDao) *Storage {
	return &Storage{
		baseDao:         dao,
		sessionEncDec:   util.NewJsonEncoderDecoder[model.FlowSession](),
		executionEncDec: util.NewJsonEncoderDecoder[model.FlowStepExecution](),
		eventEncDec:     util.NewJsonEncoderDecoder[model.FlowEvent](),
		requestEncDec:   util.NewJsonEncoderDecoder[model.FlowInteractionRequest](),
		responseEncDec:  util.NewJsonEncoderDecoder[model.FlowInteractionResponse](),
	}
}

func (s *Storage) sessionKey(id string) string {
	return s.getNamespaceKey(SESSION, id)
}

func (s *Storage) responseKey(requestId string) string {
	return s.getNamespaceKey(INTERACTION_RESPONSE, requestId)
}

func (s *Storage) Commit(ctx context.Context, m *persistence.Mutation) error {
	if len(m.Events) > 0 {
		last, err := s.redisClient.IncrBy(ctx, s.getNamespaceKey(EVENT_SEQ), int64(len(m.Events))).Result()
		if err != nil {
			logger.Error("error allocating event ids", zap.Error(err))
			return api.StorageLayerError{Message: err.Error()}
		}
		first := last - int64(len(m.Events)) + 1
		for i, ev := range m.Events {
			ev.Id = first + int64(i)
		}
	}

	var watch []string
	if m.Session != nil {
		watch = append(watch, s.sessionKey(m.Session.Id))
	}
	if m.Response != nil {
		watch = append(watch, s.responseKey(m.Response.RequestId))
	}

	var err error
	if len(watch) == 0 {
		var fresh map[string]bool
		if fresh, err = s.newExecutions(ctx, s.redisClient, m); err == nil {
			_, err = s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
				return s.write(ctx, pipe, m, fresh)
			})
		}
	} else {
		err = s.redisClient.Watch(ctx, func(tx *rd.Tx) error {
			if m.Session != nil {
				if err := s.checkVersion(ctx, tx, m.Session); err != nil {
					return err
				}
			}
			if m.Response != nil {
				n, err := tx.Exists(ctx, s.responseKey(m.Response.RequestId)).Result()
				if err != nil {
					return err
				}
				if n > 0 {
					return api.ConflictError{Message: "interaction request " + m.Response.RequestId + " already has a response"}
				}
			}
			fresh, err := s.newExecutions(ctx, tx, m)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
				return s.write(ctx, pipe, m, fresh)
			})
			return err
		}, watch...)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rd.TxFailedErr), errors.Is(err, persistence.ErrConcurrentModification):
		return persistence.ErrConcurrentModification
	case api.IsConflict(err):
		return err
	default:
		logger.Error("error committing mutation", zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
}

func (s *Storage) checkVersion(ctx context.Context, tx *rd.Tx, session *model.FlowSession) error {
	data, err := tx.Get(ctx, s.sessionKey(session.Id)).Bytes()
	if errors.Is(err, rd.Nil) {
		if session.StateVersion != 0 {
			return persistence.ErrConcurrentModification
		}
		return nil
	}
	if err != nil {
		return err
	}
	stored, err := s.sessionEncDec.Decode(data)
	if err != nil {
		return err
	}
	if stored.StateVersion != session.StateVersion-1 {
		return persistence.ErrConcurrentModification
	}
	return nil
}

// newExecutions reports which executions of m are not stored yet, so they
// are appended to the session index exactly once.
func (s *Storage) newExecutions(ctx context.Context, c rd.Cmdable, m *persistence.Mutation) (map[string]bool, error) {
	fresh := make(map[string]bool)
	for _, e := range m.Executions {
		ok, err := c.HExists(ctx, s.getNamespaceKey(EXECUTION), e.Id).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			fresh[e.Id] = true
		}
	}
	return fresh, nil
}

func (s *Storage) write(ctx context.Context, pipe rd.Pipeliner, m *persistence.Mutation, fresh map[string]bool) error {
	if m.Session != nil {
		data, err := s.sessionEncDec.Encode(*m.Session)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.sessionKey(m.Session.Id), data, 0)
	}
	for _, e := range m.Executions {
		data, err := s.executionEncDec.Encode(*e)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.getNamespaceKey(EXECUTION), e.Id, data)
		if fresh[e.Id] {
			pipe.RPush(ctx, s.getNamespaceKey(SESSION_EXECUTIONS, e.SessionId), e.Id)
		}
	}
	for _, r := range m.Requests {
		data, err := s.requestEncDec.Encode(*r)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.getNamespaceKey(INTERACTION), r.Id, data)
		pipe.HSet(ctx, s.getNamespaceKey(INTERACTION_BY_EXECUTION), r.StepExecutionId, r.Id)
		pendingKey := s.getNamespaceKey(INTERACTION_PENDING, r.SessionId)
		dueKey := s.getNamespaceKey(INTERACTION_DUE)
		if r.Status == model.INTERACTION_PENDING {
			pipe.SAdd(ctx, pendingKey, r.Id)
			if r.DueAt != nil {
				pipe.ZAdd(ctx, dueKey, rd.Z{Score: float64(r.DueAt.UnixMilli()), Member: r.Id})
			}
		} else {
			pipe.SRem(ctx, pendingKey, r.Id)
			pipe.ZRem(ctx, dueKey, r.Id)
		}
	}
	if m.Response != nil {
		data, err := s.responseEncDec.Encode(*m.Response)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.responseKey(m.Response.RequestId), data, 0)
	}
	for _, ev := range m.Events {
		data, err := s.eventEncDec.Encode(*ev)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, s.getNamespaceKey(EVENTS, ev.SessionId), rd.Z{Score: float64(ev.Id), Member: data})
	}
	for _, j := range m.Jobs {
		s.writeJob(ctx, pipe, j)
	}
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id string) (*model.FlowSession, error) {
	data, err := s.redisClient.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, api.NotFoundError{Kind: "session", Id: id}
	}
	if err != nil {
		logger.Error("error getting session", zap.String("sessionId", id), zap.Error(err))
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.sessionEncDec.Decode(data)
}

func (s *Storage) GetStepExecution(ctx context.Context, id string) (*model.FlowStepExecution, error) {
	data, err := s.redisClient.HGet(ctx, s.getNamespaceKey(EXECUTION), id).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, api.NotFoundError{Kind: "step execution", Id: id}
	}
	if err != nil {
		logger.Error("error getting step execution", zap.String("stepExecutionId", id), zap.Error(err))
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.executionEncDec.Decode(data)
}

func (s *Storage) ListStepExecutions(ctx context.Context, sessionId string) ([]*model.FlowStepExecution, error) {
	ids, err := s.redisClient.LRange(ctx, s.getNamespaceKey(SESSION_EXECUTIONS, sessionId), 0, -1).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.redisClient.HMGet(ctx, s.getNamespaceKey(EXECUTION), ids...).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.FlowStepExecution, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		e, err := s.executionEncDec.Decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Storage) ListEvents(ctx context.Context, sessionId string, afterId int64) ([]*model.FlowEvent, error) {
	opt := &rd.ZRangeBy{
		Min: "(" + strconv.FormatInt(afterId, 10),
		Max: "+inf",
	}
	values, err := s.redisClient.ZRangeByScore(ctx, s.getNamespaceKey(EVENTS, sessionId), opt).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.FlowEvent, 0, len(values))
	for _, v := range values {
		ev, err := s.eventEncDec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Storage) GetInteractionRequest(ctx context.Context, id string) (*model.FlowInteractionRequest, error) {
	data, err := s.redisClient.HGet(ctx, s.getNamespaceKey(INTERACTION), id).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, api.NotFoundError{Kind: "interaction request", Id: id}
	}
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.requestEncDec.Decode(data)
}

func (s *Storage) FindInteractionRequest(ctx context.Context, stepExecutionId string) (*model.FlowInteractionRequest, error) {
	id, err := s.redisClient.HGet(ctx, s.getNamespaceKey(INTERACTION_BY_EXECUTION), stepExecutionId).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.GetInteractionRequest(ctx, id)
}

func (s *Storage) ListPendingInteractionRequests(ctx context.Context, sessionId string) ([]*model.FlowInteractionRequest, error) {
	ids, err := s.redisClient.SMembers(ctx, s.getNamespaceKey(INTERACTION_PENDING, sessionId)).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.loadRequests(ctx, ids, func(r *model.FlowInteractionRequest) bool {
		return r.Status == model.INTERACTION_PENDING
	})
}

func (s *Storage) ListOverdueInteractionRequests(ctx context.Context, now time.Time) ([]*model.FlowInteractionRequest, error) {
	opt := &rd.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	ids, err := s.redisClient.ZRangeByScore(ctx, s.getNamespaceKey(INTERACTION_DUE), opt).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.loadRequests(ctx, ids, func(r *model.FlowInteractionRequest) bool {
		return r.Status == model.INTERACTION_PENDING
	})
}

func (s *Storage) loadRequests(ctx context.Context, ids []string, keep func(*model.FlowInteractionRequest) bool) ([]*model.FlowInteractionRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.redisClient.HMGet(ctx, s.getNamespaceKey(INTERACTION), ids...).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	var out []*model.FlowInteractionRequest
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		r, err := s.requestEncDec.Decode([]byte(str))
		if err != nil {
			return nil, err
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Storage) GetInteractionResponse(ctx context.Context, requestId string) (*model.FlowInteractionResponse, error) {
	data, err := s.redisClient.Get(ctx, s.responseKey(requestId)).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, api.NotFoundError{Kind: "interaction response", Id: requestId}
	}
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.responseEncDec.Decode(data)
}
