package presence

import "context"

// Cluster shares liveness between instances that write one durable roster.
// The registry only knows this process's connections; Cluster answers
// whether the user is still live somewhere else.
type Cluster interface {
	// Touch claims userID as live on this instance.
	Touch(ctx context.Context, userID int64) error
	// Release drops this instance's claim and reports whether another
	// instance still holds a live one.
	Release(ctx context.Context, userID int64) (aliveElsewhere bool, err error)
}

// Solo is the Cluster of a single instance: nobody else is ever live.
type Solo struct{}

func (Solo) Touch(context.Context, int64) error { return nil }

func (Solo) Release(context.Context, int64) (bool, error) { return false, nil }
