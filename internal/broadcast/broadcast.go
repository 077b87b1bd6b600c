// Package broadcast carries progress events from the workers to every
// process holding live subscribers.
package broadcast

import (
	"context"

	"github.com/jerry-enebeli/swapflow/model"
)

// Channel is the pub/sub channel progress events travel on.
const Channel = "order-updates"

// Publisher is the worker side of the bus. Publish never fails the caller:
// delivery problems are logged and counted.
type Publisher interface {
	Publish(ctx context.Context, event model.ProgressEvent)
}

// Bus adds the consuming side. The returned channel is closed when the
// subscription ends, either through the stop func, ctx, or a lost
// connection.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context) (<-chan model.ProgressEvent, func(), error)
}
