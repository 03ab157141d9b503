package queue

// Option applies a configuration option to the InMemoryInbox.
type Option func(*InMemoryInbox)

// WithBufferSize sets the buffer size of the reactions channel.
func WithBufferSize(size int) Option {
	return func(q *InMemoryInbox) {
		if size > 0 {
			q.buffer = size
		}
	}
}
