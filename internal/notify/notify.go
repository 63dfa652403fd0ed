// Package notify delivers frames to individual client connections.
package notify

import (
	"context"
	"errors"

	"github.com/fieldsafe/safegate/internal/frame"
	"github.com/fieldsafe/safegate/internal/logx"
	"github.com/fieldsafe/safegate/internal/metrics"
	"github.com/fieldsafe/safegate/internal/registry"
)

// ErrGone signals that the transport no longer knows the connection.
// Senders return it so the stale registry entry can be dropped.
var ErrGone = errors.New("connection gone")

// Sender pushes an encoded frame to one connection.
type Sender interface {
	Send(ctx context.Context, connectionID string, data []byte) error
}

// Notifier wraps a Sender with the gateway's delivery policy: frames are
// best-effort and at-most-once. A gone connection is pruned from the
// registry; every other delivery failure is logged and swallowed so an
// in-flight request is never failed by its own progress updates.
type Notifier struct {
	sender Sender
	reg    registry.Store
}

// New returns a Notifier pushing through sender and pruning reg.
func New(sender Sender, reg registry.Store) *Notifier {
	return &Notifier{sender: sender, reg: reg}
}

// Send delivers msg to connectionID. It never returns an error.
func (n *Notifier) Send(ctx context.Context, connectionID string, msg frame.Message) {
	data, err := frame.New(connectionID, msg).Encode()
	if err != nil {
		logx.Log.Error().Err(err).Str("connection_id", connectionID).Msg("encode frame")
		return
	}
	err = n.sender.Send(ctx, connectionID, data)
	switch {
	case err == nil:
		metrics.RecordFrame(string(msg.Type))
	case errors.Is(err, ErrGone):
		logx.Log.Warn().Str("connection_id", connectionID).Msg("connection gone, dropping registry entry")
		if derr := n.reg.Delete(ctx, connectionID); derr != nil {
			logx.Log.Error().Err(derr).Str("connection_id", connectionID).Msg("delete stale connection")
		}
	default:
		logx.Log.Error().Err(err).Str("connection_id", connectionID).Str("type", string(msg.Type)).Msg("send frame")
	}
}
