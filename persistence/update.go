package persistence

import (
	"context"
	"errors"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

const maxCommitAttempts = 5

// MutateFunc receives a freshly loaded copy of the session and returns what
// to commit. Returning a nil mutation writes nothing.
type MutateFunc func(session *model.FlowSession) (*Mutation, error)

// UpdateSession loads the session, lets fn build a mutation against it,
// bumps the session version and commits. A concurrent write to the same
// session makes it reload and call fn again.
func UpdateSession(ctx context.Context, store FlowStore, clock util.Clock, sessionId string, fn MutateFunc) (*Mutation, error) {
	for i := 0; i < maxCommitAttempts; i++ {
		session, err := store.GetSession(ctx, sessionId)
		if err != nil {
			return nil, err
		}
		m, err := fn(session)
		if err != nil || m == nil {
			return nil, err
		}
		m.Session = session
		session.Touch(clock.Now())
		err = store.Commit(ctx, m)
		if errors.Is(err, ErrConcurrentModification) {
			logger.Debug("session changed while committing, reloading", zap.String("sessionId", sessionId), zap.Int("try", i+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, api.ConflictError{Message: "session " + sessionId + " modified concurrently"}
}
