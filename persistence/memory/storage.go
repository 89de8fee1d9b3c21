package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
)

type storedJob struct {
	job model.FlowJob
	seq int64
}

// Storage keeps everything in process behind one mutex. Records are held
// encoded so callers never share memory with the store.
type Storage struct {
	mu sync.Mutex

	sessions           map[string][]byte
	executions         map[string][]byte
	sessionExecutions  map[string][]string
	events             map[string][][]byte
	eventSeq           int64
	jobs               map[string]*storedJob
	pendingJobs        map[string]*storedJob
	jobSeq             int64
	requests           map[string][]byte
	requestByExecution map[string]string
	responses          map[string][]byte

	sessionEncDec   util.EncoderDecoder[model.FlowSession]
	executionEncDec util.EncoderDecoder[model.FlowStepExecution]
	eventEncDec     util.EncoderDecoder[model.FlowEvent]
	requestEncDec   util.EncoderDecoder[model.FlowInteractionRequest]
	responseEncDec  util.EncoderDecoder[model.FlowInteractionResponse]
}

var _ persistence.Storage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		sessions:           make(map[string][]byte),
		executions:         make(map[string][]byte),
		sessionExecutions:  make(map[string][]string),
		events:             make(map[string][][]byte),
		jobs:               make(map[string]*storedJob),
		pendingJobs:        make(map[string]*storedJob),
		requests:           make(map[string][]byte),
		requestByExecution: make(map[string]string),
		responses:          make(map[string][]byte),
		sessionEncDec:      util.NewJsonEncoderDecoder[model.FlowSession](),
		executionEncDec:    util.NewJsonEncoderDecoder[model.FlowStepExecution](),
		eventEncDec:        util.NewJsonEncoderDecoder[model.FlowEvent](),
		requestEncDec:      util.NewJsonEncoderDecoder[model.FlowInteractionRequest](),
		responseEncDec:     util.NewJsonEncoderDecoder[model.FlowInteractionResponse](),
	}
}

func (s *Storage) Commit(ctx context.Context, m *persistence.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Session != nil {
		if err := s.checkVersion(m.Session); err != nil {
			return err
		}
	}
	if m.Response != nil {
		if _, ok := s.responses[m.Response.RequestId]; ok {
			return api.ConflictError{Message: "interaction request " + m.Response.RequestId + " already has a response"}
		}
	}

	// encode everything first so a failure leaves the store untouched
	var session []byte
	var err error
	if m.Session != nil {
		if session, err = s.sessionEncDec.Encode(*m.Session); err != nil {
			return err
		}
	}
	executions := make([][]byte, len(m.Executions))
	for i, e := range m.Executions {
		if executions[i], err = s.executionEncDec.Encode(*e); err != nil {
			return err
		}
	}
	requests := make([][]byte, len(m.Requests))
	for i, r := range m.Requests {
		if requests[i], err = s.requestEncDec.Encode(*r); err != nil {
			return err
		}
	}
	var response []byte
	if m.Response != nil {
		if response, err = s.responseEncDec.Encode(*m.Response); err != nil {
			return err
		}
	}
	seq := s.eventSeq
	events := make([][]byte, len(m.Events))
	for i, ev := range m.Events {
		seq++
		ev.Id = seq
		if events[i], err = s.eventEncDec.Encode(*ev); err != nil {
			return err
		}
	}

	if m.Session != nil {
		s.sessions[m.Session.Id] = session
	}
	for i, e := range m.Executions {
		if _, ok := s.executions[e.Id]; !ok {
			s.sessionExecutions[e.SessionId] = append(s.sessionExecutions[e.SessionId], e.Id)
		}
		s.executions[e.Id] = executions[i]
	}
	for i, r := range m.Requests {
		s.requests[r.Id] = requests[i]
		s.requestByExecution[r.StepExecutionId] = r.Id
	}
	if m.Response != nil {
		s.responses[m.Response.RequestId] = response
	}
	s.eventSeq = seq
	for i, ev := range m.Events {
		s.events[ev.SessionId] = append(s.events[ev.SessionId], events[i])
	}
	for _, j := range m.Jobs {
		s.jobSeq++
		sj := &storedJob{job: *j, seq: s.jobSeq}
		s.jobs[j.Id] = sj
		s.indexJob(sj)
	}
	return nil
}

func (s *Storage) checkVersion(session *model.FlowSession) error {
	data, ok := s.sessions[session.Id]
	if !ok {
		if session.StateVersion != 0 {
			return persistence.ErrConcurrentModification
		}
		return nil
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

func (s *Storage) GetSession(ctx context.Context, id string) (*model.FlowSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "session", Id: id}
	}
	return s.sessionEncDec.Decode(data)
}

func (s *Storage) GetStepExecution(ctx context.Context, id string) (*model.FlowStepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.executions[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "step execution", Id: id}
	}
	return s.executionEncDec.Decode(data)
}

func (s *Storage) ListStepExecutions(ctx context.Context, sessionId string) ([]*model.FlowStepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sessionExecutions[sessionId]
	out := make([]*model.FlowStepExecution, 0, len(ids))
	for _, id := range ids {
		e, err := s.executionEncDec.Decode(s.executions[id])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Storage) ListEvents(ctx context.Context, sessionId string, afterId int64) ([]*model.FlowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FlowEvent
	for _, data := range s.events[sessionId] {
		ev, err := s.eventEncDec.Decode(data)
		if err != nil {
			return nil, err
		}
		if ev.Id > afterId {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Storage) GetInteractionRequest(ctx context.Context, id string) (*model.FlowInteractionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRequest(id)
}

func (s *Storage) getRequest(id string) (*model.FlowInteractionRequest, error) {
	data, ok := s.requests[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "interaction request", Id: id}
	}
	return s.requestEncDec.Decode(data)
}

func (s *Storage) FindInteractionRequest(ctx context.Context, stepExecutionId string) (*model.FlowInteractionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.requestByExecution[stepExecutionId]
	if !ok {
		return nil, nil
	}
	return s.getRequest(id)
}

func (s *Storage) ListPendingInteractionRequests(ctx context.Context, sessionId string) ([]*model.FlowInteractionRequest, error) {
	return s.filterRequests(func(r *model.FlowInteractionRequest) bool {
		return r.SessionId == sessionId && r.Status == model.INTERACTION_PENDING
	})
}

func (s *Storage) ListOverdueInteractionRequests(ctx context.Context, now time.Time) ([]*model.FlowInteractionRequest, error) {
	return s.filterRequests(func(r *model.FlowInteractionRequest) bool {
		return r.Status == model.INTERACTION_PENDING && r.DueAt != nil && !r.DueAt.After(now)
	})
}

func (s *Storage) filterRequests(keep func(*model.FlowInteractionRequest) bool) ([]*model.FlowInteractionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FlowInteractionRequest
	for _, data := range s.requests {
		r, err := s.requestEncDec.Decode(data)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.responses[requestId]
	if !ok {
		return nil, api.NotFoundError{Kind: "interaction response", Id: requestId}
	}
	return s.responseEncDec.Decode(data)
}
