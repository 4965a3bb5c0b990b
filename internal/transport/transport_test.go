package transport

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
)

func TestReplySocket_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ipc socket round trip in short mode")
	}

	addr := "ipc://" + filepath.Join(t.TempDir(), "reply.sock")
	server, err := ListenReply(addr)
	if err != nil {
		t.Fatalf("ListenReply: %v", err)
	}
	defer server.Close()

	client, err := req.NewSocket()
	if err != nil {
		t.Fatalf("new req socket: %v", err)
	}
	defer client.Close()
	if err := client.Dial(addr); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		payload, reply, timedOut, err := server.Recv()
		if err != nil {
			done <- err
			return
		}
		if timedOut {
			done <- fmt.Errorf("unexpected timeout")
			return
		}
		done <- reply(append([]byte("echo:"), payload...))
	}()

	if err := client.Send([]byte("ping")); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("client Recv: %v", err)
	}
	if string(reply) != "echo:ping" {
		t.Fatalf("reply = %q, want %q", reply, "echo:ping")
	}
	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

func TestReplySocket_Recv_TimesOutWithoutBlocking(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ipc socket timeout test in short mode")
	}

	addr := "ipc://" + filepath.Join(t.TempDir(), "reply-timeout.sock")
	server, err := ListenReply(addr)
	if err != nil {
		t.Fatalf("ListenReply: %v", err)
	}
	defer server.Close()

	start := time.Now()
	_, _, timedOut, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !timedOut {
		t.Fatalf("expected a timeout with no client connected")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Recv took too long to time out: %v", elapsed)
	}
}

func TestBroadcastSocket_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ipc socket round trip in short mode")
	}

	addr := "ipc://" + filepath.Join(t.TempDir(), "pub.sock")
	server, err := ListenBroadcast(addr)
	if err != nil {
		t.Fatalf("ListenBroadcast: %v", err)
	}
	defer server.Close()

	client, err := sub.NewSocket()
	if err != nil {
		t.Fatalf("new sub socket: %v", err)
	}
	defer client.Close()
	if err := client.SetOption(mangos.OptionSubscribe, []byte("")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Dial(addr); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// Give the subscriber time to complete its dial before the first publish;
	// PUB sockets drop messages to not-yet-connected subscribers.
	time.Sleep(100 * time.Millisecond)

	if err := server.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := client.Recv()
	if err != nil {
		t.Fatalf("client Recv: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("msg = %q, want %q", msg, "hello")
	}
}
