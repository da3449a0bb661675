package gateway

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
	"github.com/SafeSignal-Labs/beacon/internal/assembler"
	"github.com/SafeSignal-Labs/beacon/internal/capture"
	"github.com/SafeSignal-Labs/beacon/internal/chunkstore"
	"github.com/SafeSignal-Labs/beacon/internal/notify"
	"github.com/SafeSignal-Labs/beacon/internal/testutil"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := Request{
		Kind:      KindChunk,
		Payload:   []byte{0x00, 0x01, 0xFF},
		SessionID: "s1",
	}
	if err := WriteMessage(&buf, &in); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var out Request
	if err := ReadMessage(&buf, &out); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if out.Kind != in.Kind || out.SessionID != in.SessionID || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestMessageRoundTrip_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteMessage(&buf, &Request{Kind: KindChunk}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var out Request
	if err := ReadMessage(&buf, &out); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(out.Payload))
	}
}

func TestReadMessage_RejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	var out Request
	if err := ReadMessage(&buf, &out); err == nil {
		t.Error("expected oversize message to be rejected")
	}
}

// testHarness runs a full pipeline behind a real TCP gateway.
type testHarness struct {
	gw    *Gateway
	store *testutil.MockStore

	mu     sync.Mutex
	events map[string]int
}

func (h *testHarness) eventCount(subject string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[subject]
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	chunks, err := chunkstore.New(filepath.Join(dir, "segments"))
	if err != nil {
		t.Fatalf("chunkstore.New: %v", err)
	}
	asm, err := assembler.New(chunks, filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("assembler.New: %v", err)
	}

	ms := testutil.NewMockStore()
	h := &testHarness{store: ms, events: map[string]int{}}
	notifier := notify.New(ms, func(subject string, _ []byte) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events[subject]++
		return nil
	})

	outcome := capture.NewOutcomeController(chunks, asm, ms, notifier)
	recovery := capture.NewRecovery(outcome, nil)
	registry := capture.NewRegistry(chunks, outcome, recovery)

	gw, err := New("127.0.0.1:0", registry)
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		registry.Wait()
		<-done
	})

	h.gw = gw
	return h
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func (h *testHarness) dial(t *testing.T) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", h.gw.Addr())
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) roundTrip(req *Request) *Reply {
	c.t.Helper()
	if err := WriteMessage(c.conn, req); err != nil {
		c.t.Fatalf("write %s: %v", req.Kind, err)
	}
	var reply Reply
	if err := ReadMessage(c.conn, &reply); err != nil {
		c.t.Fatalf("read reply to %s: %v", req.Kind, err)
	}
	return &reply
}

func (h *testHarness) waitArtifacts(t *testing.T, want int) []artifact.Artifact {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		artifacts := h.store.StoredArtifacts()
		if len(artifacts) >= want {
			return artifacts
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d artifacts, have %d", want, len(h.store.StoredArtifacts()))
	return nil
}

func TestEndToEnd_CommitScenario(t *testing.T) {
	h := newHarness(t)
	h.store.SetObservers(7, []string{"obs-1", "obs-2"})
	c := h.dial(t)

	reply := c.roundTrip(&Request{
		Kind:      KindBegin,
		SessionID: "s1",
		UserID:    7,
		Latitude:  37.0,
		Longitude: -122.0,
	})
	if reply.Kind != KindAck || reply.SessionID != "s1" {
		t.Fatalf("unexpected begin reply: %+v", reply)
	}

	reply = c.roundTrip(&Request{Kind: KindChunk, Payload: []byte("AAAA")})
	if reply.Kind != KindAck || reply.Index != 0 {
		t.Fatalf("unexpected first chunk reply: %+v", reply)
	}
	reply = c.roundTrip(&Request{Kind: KindChunk, Payload: []byte("BB")})
	if reply.Kind != KindAck || reply.Index != 1 {
		t.Fatalf("unexpected second chunk reply: %+v", reply)
	}

	reply = c.roundTrip(&Request{Kind: KindEnd, Cancelled: false})
	if reply.Kind != KindAck || reply.Outcome != string(capture.OutcomeCommitted) {
		t.Fatalf("unexpected end reply: %+v", reply)
	}

	artifacts := h.store.StoredArtifacts()
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}
	a := artifacts[0]
	if a.Status != artifact.StatusSaved || a.UserID != 7 {
		t.Errorf("unexpected artifact: status=%s owner=%d", a.Status, a.UserID)
	}
	if a.Location.Latitude != 37.0 || a.Location.Longitude != -122.0 {
		t.Errorf("unexpected location snapshot: %+v", a.Location)
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "AAAABB" {
		t.Errorf("expected artifact bytes AAAABB, got %q", data)
	}

	// Exactly one fan-out event per configured observer.
	for _, obs := range []string{"obs-1", "obs-2"} {
		subject := "beacon.observer." + obs + ".artifact"
		if n := h.eventCount(subject); n != 1 {
			t.Errorf("expected 1 event on %s, got %d", subject, n)
		}
	}
}

func TestChunkWithoutBegin(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	reply := c.roundTrip(&Request{Kind: KindChunk, Payload: []byte("data")})
	if reply.Kind != KindError || reply.Code != CodeNoActiveSession {
		t.Errorf("expected no_active_session error, got %+v", reply)
	}
}

func TestDuplicateBegin(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	if reply := c.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 7}); reply.Kind != KindAck {
		t.Fatalf("first begin failed: %+v", reply)
	}
	reply := c.roundTrip(&Request{Kind: KindBegin, SessionID: "s2", UserID: 7})
	if reply.Kind != KindError || reply.Code != CodeDuplicateSession {
		t.Errorf("expected duplicate_session error, got %+v", reply)
	}
}

func TestDuplicateSessionIDOnSecondConnection(t *testing.T) {
	h := newHarness(t)
	c1 := h.dial(t)
	c2 := h.dial(t)

	if reply := c1.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 7}); reply.Kind != KindAck {
		t.Fatalf("first begin failed: %+v", reply)
	}
	reply := c2.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 8})
	if reply.Kind != KindError || reply.Code != CodeDuplicateSession {
		t.Fatalf("expected duplicate_session error for a live id, got %+v", reply)
	}

	// The owning connection keeps writing unharmed by the rejected one.
	c1.roundTrip(&Request{Kind: KindChunk, Payload: []byte("AAAA")})
	if r := c2.roundTrip(&Request{Kind: KindChunk, Payload: []byte("ZZ")}); r.Code != CodeNoActiveSession {
		t.Fatalf("expected no_active_session on rejected connection, got %+v", r)
	}
	c1.roundTrip(&Request{Kind: KindChunk, Payload: []byte("BB")})

	reply = c1.roundTrip(&Request{Kind: KindEnd, Cancelled: false})
	if reply.Kind != KindAck || reply.Outcome != string(capture.OutcomeCommitted) {
		t.Fatalf("unexpected end reply: %+v", reply)
	}

	artifacts := h.store.StoredArtifacts()
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}
	data, err := os.ReadFile(artifacts[0].Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "AAAABB" {
		t.Errorf("artifact corrupted by second connection: got %q, want %q", data, "AAAABB")
	}
	if artifacts[0].UserID != 7 {
		t.Errorf("expected owner 7, got %d", artifacts[0].UserID)
	}
}

func TestCancelledEnd(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 7})
	c.roundTrip(&Request{Kind: KindChunk, Payload: []byte("discard me")})

	reply := c.roundTrip(&Request{Kind: KindEnd, Cancelled: true})
	if reply.Kind != KindAck || reply.Outcome != string(capture.OutcomeDiscarded) {
		t.Fatalf("unexpected end reply: %+v", reply)
	}
	if len(h.store.StoredArtifacts()) != 0 {
		t.Error("cancelled end must not produce an artifact")
	}
}

func TestConnectionLoss_TriggersRecovery(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 7})
	for _, p := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		c.roundTrip(&Request{Kind: KindChunk, Payload: p})
	}

	// Vanish without an end message.
	c.conn.Close()

	artifacts := h.waitArtifacts(t, 1)
	if artifacts[0].Status != artifact.StatusRecovered {
		t.Errorf("expected status recovered, got %s", artifacts[0].Status)
	}
	data, err := os.ReadFile(artifacts[0].Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("expected recovered bytes abc, got %q", data)
	}
}

func TestConnectionLoss_EmptySessionNoArtifact(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 7})
	c.conn.Close()

	// Give the disconnect path time to run, then confirm nothing appeared.
	time.Sleep(100 * time.Millisecond)
	if len(h.store.StoredArtifacts()) != 0 {
		t.Error("expected no artifact for a zero-segment orphan")
	}
}

func TestBeginAgainAfterEnd(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.roundTrip(&Request{Kind: KindBegin, SessionID: "s1", UserID: 7})
	c.roundTrip(&Request{Kind: KindChunk, Payload: []byte("x")})
	c.roundTrip(&Request{Kind: KindEnd, Cancelled: false})

	// The connection is free again after a terminal outcome.
	reply := c.roundTrip(&Request{Kind: KindBegin, SessionID: "s2", UserID: 7})
	if reply.Kind != KindAck || reply.SessionID != "s2" {
		t.Errorf("expected fresh begin to succeed after end, got %+v", reply)
	}
}

func TestUnknownKind(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	reply := c.roundTrip(&Request{Kind: "bogus"})
	if reply.Kind != KindError || reply.Code != CodeInternal {
		t.Errorf("expected internal error for unknown kind, got %+v", reply)
	}
}
