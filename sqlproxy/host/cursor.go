package host

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// Batch is a run of rows pulled from a cursor.
type Batch struct {
	Rows [][]types.Value
	// Done reports that the cursor reached end of stream. The cursor handle
	// is no longer valid.
	Done bool
}

// CursorNext pulls a single row. Once the cursor is exhausted it returns
// done with a nil row and the handle stops being valid.
func (h *SQLHost) CursorNext(ctx context.Context, cursorID string) ([]types.Value, bool, error) {
	batch, err := h.fetch(ctx, "next", cursorID, 1)
	if err != nil {
		return nil, false, err
	}
	if len(batch.Rows) == 0 {
		return nil, true, nil
	}
	return batch.Rows[0], false, nil
}

// Fetch pulls up to maxRows rows. A batch that reaches end of stream is
// marked Done and the cursor is dropped.
func (h *SQLHost) Fetch(ctx context.Context, cursorID string, maxRows int) (Batch, error) {
	return h.fetch(ctx, "fetch", cursorID, maxRows)
}

func (h *SQLHost) fetch(ctx context.Context, op, cursorID string, maxRows int) (batch Batch, err error) {
	defer instrument(op, time.Now(), &err)

	if maxRows <= 0 {
		maxRows = h.cfg.FetchSize
	}

	var orphaned bool
	err = h.cursors.With(cursorID, func(c *cursorEntry) error {
		if c.exhausted {
			return fmt.Errorf("cursor %q is exhausted: %w", cursorID, types.ErrInvalidState)
		}
		if err := h.requireConn(c.connID, h.cursors.Kind(), cursorID); err != nil {
			log.WithFields(log.Fields{
				"cursor": cursorID,
				"conn":   c.connID,
				"source": c.source,
			}).Debug("dropping cursor of closed connection")
			orphaned = true
			return err
		}

		batch, err = bridge.Run(h.bridge, ctx, func(ctx context.Context) (Batch, error) {
			var b Batch
			for len(b.Rows) < maxRows {
				row, done, err := c.rows.Next(ctx)
				if err != nil {
					return Batch{}, types.Engine(op, err)
				}
				if done {
					b.Done = true
					break
				}
				b.Rows = append(b.Rows, row)
			}
			return b, nil
		})
		if err != nil {
			return err
		}
		if batch.Done {
			c.exhausted = true
		}
		return nil
	})
	if orphaned || (err == nil && batch.Done) {
		h.dropCursor(ctx, cursorID)
	}
	return batch, err
}

// CloseCursor releases a cursor before it is exhausted.
func (h *SQLHost) CloseCursor(ctx context.Context, cursorID string) (err error) {
	defer instrument("close_cursor", time.Now(), &err)
	return h.closeCursor(ctx, cursorID)
}

// dropCursor removes a cursor that is exhausted or whose connection is gone.
func (h *SQLHost) dropCursor(ctx context.Context, cursorID string) {
	_ = h.closeCursor(ctx, cursorID)
}

func (h *SQLHost) closeCursor(ctx context.Context, cursorID string) error {
	entry, err := h.cursors.Remove(cursorID)
	if err != nil {
		return err
	}
	liveHandles.WithLabelValues(h.cursors.Kind()).Dec()

	return entry.Release(func(c *cursorEntry) error {
		_, err := bridge.Run(h.bridge, ctx, func(context.Context) (struct{}, error) {
			return struct{}{}, types.Engine("close cursor", c.rows.Close())
		})
		return err
	})
}
