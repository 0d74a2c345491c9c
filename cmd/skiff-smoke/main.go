// Package main provides a CI-friendly smoke test for the skiff sync engine.
//
// It runs entirely in-process against the in-memory backend and validates:
//   - session open -> Active
//   - history fetch in ascending (created_at, id) order
//   - send -> echo insert and outbox ack
//   - peer insert fanout
//   - update repositioning and delete removal
//   - clean close
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"skiff/cmd/internal/actor"
	"skiff/cmd/internal/backend"
	"skiff/cmd/internal/chat"
)

func main() {
	var (
		actorID = flag.String("actor", "smokea", "Actor participant ID")
		peerID  = flag.String("peer", "smokeb", "Peer participant ID")
		text    = flag.String("text", "hello skiff", "Message content to send")
		timeout = flag.Duration("timeout", 5*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	mem := backend.NewMemory(log, 64)

	key, err := chat.NewConversationKey(*actorID, *peerID)
	if err != nil {
		fatalf("conversation key: %v", err)
	}

	// Seeded before the session opens, so they arrive via history only.
	seeds := []string{"first", "second", "third"}
	for _, content := range seeds {
		if err := mem.Insert(ctx, key, *peerID, content); err != nil {
			fatalf("seed insert: %v", err)
		}
	}

	engine, err := chat.NewEngine(chat.Options{
		Log:     log,
		History: mem,
		Feed:    mem,
		Writer:  mem,
		Actor:   actor.NewStatic(*actorID),
	})
	if err != nil {
		fatalf("new engine: %v", err)
	}

	sess, err := engine.Open(ctx, key)
	if err != nil {
		fatalf("open session: %v", err)
	}
	defer func() { _ = sess.Close() }()

	view := mustAwaitLen(sess, len(seeds), *timeout)
	mustAscending(view)
	if *verbose {
		fmt.Printf("history loaded: %d messages, state=%s\n", len(view), sess.State())
	}

	mustAwaitState(sess, chat.SessionActive, *timeout)

	if err := sess.Send(ctx, *text); err != nil {
		fatalf("send: %v", err)
	}
	view = mustAwaitContent(sess, *actorID, *text, *timeout)
	mustAscending(view)
	mustAllAcked(sess)

	if err := mem.Insert(ctx, key, *peerID, "reply"); err != nil {
		fatalf("peer insert: %v", err)
	}
	view = mustAwaitContent(sess, *peerID, "reply", *timeout)
	mustAscending(view)

	target := view[0]
	if err := mem.Update(key, target.ID, "first (edited)"); err != nil {
		fatalf("update: %v", err)
	}
	view = mustAwaitContent(sess, *peerID, "first (edited)", *timeout)
	mustAscending(view)

	before := len(view)
	if err := mem.Delete(key, target.ID); err != nil {
		fatalf("delete: %v", err)
	}
	view = mustAwaitLen(sess, before-1, *timeout)
	mustAscending(view)
	for _, m := range view {
		if m.ID == target.ID {
			fatalf("deleted message %s still present", target.ID)
		}
	}

	if err := sess.Close(); err != nil {
		fatalf("close: %v", err)
	}
	if got := sess.State(); got != chat.SessionClosed {
		fatalf("state after close: got=%s want=%s", got, chat.SessionClosed)
	}

	fmt.Printf("OK: conv_id=%s messages=%d\n", key.ID(), len(view))
}

func mustAwaitLen(sess *chat.Session, want int, timeout time.Duration) []chat.Message {
	deadline := time.After(timeout)
	if view := sess.Snapshot(); len(view) == want {
		return view
	}
	for {
		select {
		case <-deadline:
			fatalf("timeout waiting for %d messages, have %d", want, len(sess.Snapshot()))
		case view, ok := <-sess.Updates():
			if !ok {
				fatalf("session closed while waiting for %d messages", want)
			}
			if len(view) == want {
				return view
			}
		case err := <-sess.Errors():
			fatalf("session error: %v", err)
		}
	}
}

func mustAwaitContent(sess *chat.Session, senderID, content string, timeout time.Duration) []chat.Message {
	deadline := time.After(timeout)
	if view := sess.Snapshot(); containsContent(view, senderID, content) {
		return view
	}
	for {
		select {
		case <-deadline:
			fatalf("timeout waiting for %q from %s", content, senderID)
		case view, ok := <-sess.Updates():
			if !ok {
				fatalf("session closed while waiting for %q", content)
			}
			if containsContent(view, senderID, content) {
				return view
			}
		case err := <-sess.Errors():
			fatalf("session error: %v", err)
		}
	}
}

func mustAwaitState(sess *chat.Session, want chat.SessionState, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	fatalf("timeout waiting for state %s, have %s", want, sess.State())
}

func mustAscending(view []chat.Message) {
	for i := 1; i < len(view); i++ {
		if !view[i-1].Less(view[i]) {
			fatalf("order violation at index %d: %s !< %s", i, view[i-1].ID, view[i].ID)
		}
	}
}

func mustAllAcked(sess *chat.Session) {
	if pending := sess.PendingSends(); len(pending) != 0 {
		fatalf("outbox still has %d pending entries after echo", len(pending))
	}
}

func containsContent(view []chat.Message, senderID, content string) bool {
	for _, m := range view {
		if m.SenderID == senderID && m.Content == content {
			return true
		}
	}
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
