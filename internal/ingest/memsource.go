package ingest

import "context"

// MemSource is an in-process Source useful for tests and for embedding the
// gateway in a larger program: callers push messages onto Inbox, Run
// delivers each to handle in order, and Run returns when ctx is cancelled.
type MemSource struct {
	Inbox chan IncomingMessage
}

// NewMemSource builds a MemSource with the given inbox buffer size.
func NewMemSource(buffer int) *MemSource {
	return &MemSource{Inbox: make(chan IncomingMessage, buffer)}
}

func (s *MemSource) Name() string { return "test" }

func (s *MemSource) Run(ctx context.Context, handle func(IncomingMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.Inbox:
			handle(msg)
		}
	}
}
