package client

import "context"

// CancelToken scopes cancellation to exactly one exchange. A new token is
// created per exchange and handed to it by value.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCancelToken(parent context.Context) CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return CancelToken{ctx: ctx, cancel: cancel}
}

func (t CancelToken) Context() context.Context {
	return t.ctx
}

func (t CancelToken) Cancel() {
	t.cancel()
}

// Cancelled reports whether Cancel was called or the parent went away
func (t CancelToken) Cancelled() bool {
	return t.ctx.Err() != nil
}
