package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pupper/internal/logging"
	"pupper/internal/types"
)

// Ingest subscribes to topic and turns each message into a CommandRequest.
// Seq starts at 1 and follows delivery order. The channel closes when the
// subscription ends.
func Ingest(ctx context.Context, sub Subscriber, topic string) (<-chan types.CommandRequest, error) {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan types.CommandRequest)
	go func() {
		defer close(out)
		var seq uint64
		for m := range msgs {
			seq++
			req := types.CommandRequest{
				Seq:        seq,
				ID:         uuid.NewString(),
				Utterance:  m.Payload,
				ReceivedAt: m.ReceivedAt,
			}
			logging.BusDebug("received seq=%d id=%s len=%d", req.Seq, req.ID, len(req.Utterance))
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
