package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
)

// Requester is the subset of *nats.Conn the evaluator needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Evaluator scores branches by NATS request-reply on a fixed subject.
type Evaluator struct {
	nc      Requester
	subject string
}

// NewEvaluator returns an evaluator that sends requests to subject.
func NewEvaluator(nc Requester, subject string) *Evaluator {
	return &Evaluator{nc: nc, subject: subject}
}

// Evaluate sends the branch and waits for a reply until ctx expires.
func (e *Evaluator) Evaluate(ctx context.Context, t *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error) {
	body, err := json.Marshal(evaluator.NewRequest(t, b))
	if err != nil {
		return nil, fmt.Errorf("encode evaluate request: %w", err)
	}
	msg, err := e.nc.RequestWithContext(ctx, e.subject, body)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", e.subject, err)
	}
	var resp evaluator.Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode reply from %s: %w", e.subject, err)
	}
	return resp.Score()
}

// Factory builds evaluators for nats: registrations.
type Factory struct {
	NC Requester
}

// New implements evaluator.Factory.
func (f Factory) New(reg evaluator.Registration) (evaluator.Evaluator, error) {
	scheme, err := reg.Scheme()
	if err != nil {
		return nil, err
	}
	if scheme != evaluator.SchemeNATS {
		return nil, fmt.Errorf("nats factory cannot serve %s endpoint %q", scheme, reg.Endpoint)
	}
	return NewEvaluator(f.NC, reg.NATSSubject()), nil
}
