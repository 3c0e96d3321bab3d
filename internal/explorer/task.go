package explorer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
)

// Task applies block updates from block processing to the index.
type Task struct {
	Index  *Index
	Logger zerolog.Logger
}

// Run consumes updates until ctx ends. Index write failures end the task.
func (t *Task) Run(ctx context.Context, input *mailbox.Queue[intercom.ExplorerMsg]) error {
	for {
		msg, err := input.Recv(ctx)
		if err != nil {
			return nil
		}
		if msg.Block == nil {
			continue
		}
		if err := t.Index.Apply(msg.Block, msg.NewTip); err != nil {
			return err
		}
		t.Logger.Debug().
			Uint64("height", msg.Block.Header.Height).
			Bool("tip", msg.NewTip).
			Msg("Block indexed")
	}
}
