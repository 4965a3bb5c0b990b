// Package transport wraps the pair of ipc:// sockets the reply server (C9)
// and broadcast publisher (C8) sit on, isolating the rest of the runtime
// from the specific message-queue library. Grounded in the native system's
// use of nng (nanomsg-next-gen) REP/PUB sockets at ipc:// addresses; mangos
// is the Go port of the same SP protocol family.
package transport

import (
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
)

const recvTimeout = 100 * time.Millisecond

// ReplyFunc sends the response to whichever peer sent the request Recv
// returned.
type ReplyFunc func(payload []byte) error

// ReplySocket is the server-bound REP side the reply server reads requests
// from and answers on.
type ReplySocket struct {
	sock mangos.Socket
}

// ListenReply binds a REP socket at addr (e.g. "ipc:///tmp/reyer-rep.sock").
func ListenReply(addr string) (*ReplySocket, error) {
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("new rep socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, recvTimeout); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set recv deadline: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &ReplySocket{sock: sock}, nil
}

// Recv blocks for up to the configured receive timeout waiting for a
// request. Returns (nil, nil, true, nil) on an ordinary timeout so the
// server loop can check its cancellation context and retry.
func (r *ReplySocket) Recv() (payload []byte, reply ReplyFunc, timedOut bool, err error) {
	msg, err := r.sock.Recv()
	if err != nil {
		if err == mangos.ErrRecvTimeout {
			return nil, nil, true, nil
		}
		return nil, nil, false, err
	}
	return msg, r.sock.Send, false, nil
}

// Close releases the socket.
func (r *ReplySocket) Close() error {
	return r.sock.Close()
}

// BroadcastSocket is the server-bound PUB side the broadcast publisher
// writes lifecycle events to.
type BroadcastSocket struct {
	sock mangos.Socket
}

// ListenBroadcast binds a PUB socket at addr (e.g. "ipc:///tmp/reyer-pub.sock").
func ListenBroadcast(addr string) (*BroadcastSocket, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("new pub socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &BroadcastSocket{sock: sock}, nil
}

// Send publishes a single message to every current subscriber. PUB sockets
// never block on a slow/absent subscriber, matching the spec's "broadcast
// failures are logged and dropped" rule.
func (b *BroadcastSocket) Send(payload []byte) error {
	return b.sock.Send(payload)
}

// Close releases the socket.
func (b *BroadcastSocket) Close() error {
	return b.sock.Close()
}
