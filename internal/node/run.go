package node

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pupper/internal/logging"
	"pupper/internal/types"
)

// Run consumes requests until in closes (returns nil) or ctx is done
// (returns ctx.Err()). With one worker requests are handled strictly in
// delivery order; with more, each request is an independent task and
// publications of different requests may interleave.
func (n *Node) Run(ctx context.Context, in <-chan types.CommandRequest) error {
	logging.Node("waiting for queries (workers=%d, outbound=%s)", n.cfg.Workers, n.cfg.OutboundTopic)
	if n.cfg.Workers == 1 {
		return n.runSequential(ctx, in)
	}
	return n.runPool(ctx, in)
}

func (n *Node) runSequential(ctx context.Context, in <-chan types.CommandRequest) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-in:
			if !ok {
				return nil
			}
			n.handleLogged(ctx, req)
		}
	}
}

func (n *Node) runPool(ctx context.Context, in <-chan types.CommandRequest) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			logging.NodeDebug("worker %d started", worker)
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case req, ok := <-in:
					if !ok {
						return nil
					}
					n.handleLogged(gctx, req)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// handleLogged runs Handle and logs a failed publish. Publish errors do
// not stop the node.
func (n *Node) handleLogged(ctx context.Context, req types.CommandRequest) {
	if _, err := n.Handle(ctx, req); err != nil {
		n.logger.Error("request dropped by transport", zap.Uint64("seq", req.Seq), zap.Error(err))
	}
}
