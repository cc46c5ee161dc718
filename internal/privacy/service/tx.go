package service

import "context"

// TxRunner provides a transactional boundary for a mutation and its audit
// events. Implementations carry the transaction on the context passed to fn,
// and the store and the audit outbox join it from there.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WithTxRunner makes every mutation commit together with its audit events.
// A failed emission then rolls the mutation back instead of being logged.
func WithTxRunner(r TxRunner) Option {
	return func(s *Service) {
		s.txRunner = r
	}
}

type emitFailureKey struct{}

// atomically runs fn inside the configured transaction. Without a runner fn
// runs directly and emission stays fire-and-forget.
func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txRunner == nil {
		return fn(ctx)
	}
	return s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		var emitErr error
		err := fn(context.WithValue(ctx, emitFailureKey{}, &emitErr))
		// a failed outbox insert aborts the transaction, so later statements
		// fail too; report the cause
		if emitErr != nil {
			return emitErr
		}
		return err
	})
}
