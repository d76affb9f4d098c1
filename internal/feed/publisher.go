package feed

import "context"

// Publisher is where components announce committed row changes. It is the
// Bridge when Redis is configured and the bare local bus otherwise.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// LocalPublisher adapts a Bus for single-instance deployments.
type LocalPublisher struct {
	Bus *Bus
}

func (p LocalPublisher) Publish(_ context.Context, ev Event) {
	p.Bus.Publish(ev)
}
