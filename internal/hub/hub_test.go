package hub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"livehub/internal/snippet"
	"livehub/internal/store"
	"livehub/internal/transport"
	"livehub/internal/transport/transporttest"
)

var testCompiler = snippet.MustNew(snippet.Config{})

type countingCompiler struct {
	calls atomic.Int32
}

func (c *countingCompiler) Check(src string) snippet.Result {
	c.calls.Add(1)
	return testCompiler.Check(src)
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	if cfg.Compiler == nil {
		cfg.Compiler = testCompiler
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// connect serves a fake connection and consumes the handshake.
func connect(t *testing.T, h *Hub) *transporttest.Conn {
	t.Helper()
	conn := transporttest.NewConn()
	p := transport.NewPeer(conn, transport.PeerOptions{})
	go func() { _ = h.Serve(context.Background(), p) }()
	action, m := conn.NextAction(t)
	if action != "connected" {
		t.Fatalf("first message = %q, want connected", action)
	}
	if m["message"] != defaultGreeting {
		t.Fatalf("greeting = %v", m["message"])
	}
	return conn
}

func expect(t *testing.T, conn *transporttest.Conn, action, name, compiled string) {
	t.Helper()
	got, m := conn.NextAction(t)
	if got != action {
		t.Fatalf("action = %q, want %q (%v)", got, action, m)
	}
	if name != "" && m["name"] != name {
		t.Fatalf("name = %v, want %q", m["name"], name)
	}
	if compiled != "" && m["compiledText"] != compiled {
		t.Fatalf("compiledText = %v, want %q", m["compiledText"], compiled)
	}
}

func waitConnections(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := h.Connections(context.Background())
		if err != nil {
			t.Fatalf("connections: %v", err)
		}
		if n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", n, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRequiresCompiler(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without compiler")
	}
}

func TestPushBroadcastsExecuteToEveryClient(t *testing.T) {
	pub := NewMemoryPublisher()
	h := newTestHub(t, Config{Publisher: pub})
	a, b := connect(t, h), connect(t, h)

	res, err := h.Push(context.Background(), "m1", "const a = 1 + 1;")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !res.Success || res.CompiledText != "const a=1+1;" || res.Delivered != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	expect(t, a, "execute", "m1", "const a=1+1;")
	expect(t, b, "execute", "m1", "const a=1+1;")

	mods, err := h.Modules(context.Background())
	if err != nil || len(mods) != 1 || mods[0].Name != "m1" || !mods[0].Compiled {
		t.Fatalf("modules = %+v, %v", mods, err)
	}
	names := pub.Names()
	if names[len(names)-1] != EventPushAccepted {
		t.Fatalf("events = %v", names)
	}
}

func TestPushStripsImports(t *testing.T) {
	h := newTestHub(t, Config{})
	c := connect(t, h)
	res, err := h.Push(context.Background(), "m", "import {x} from 'y'; const a=1;")
	if err != nil || !res.Success {
		t.Fatalf("push: %+v %v", res, err)
	}
	expect(t, c, "execute", "m", "const a=1;")
}

func TestRejectedPushChangesNothing(t *testing.T) {
	pub := NewMemoryPublisher()
	st := store.NewMemoryStore()
	h := newTestHub(t, Config{Publisher: pub, Store: st})
	c := connect(t, h)

	res, err := h.Push(context.Background(), "broken", "functon broken(")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Success || res.CompiledText != "" || len(res.Diagnostics) == 0 {
		t.Fatalf("expected structural rejection, got %+v", res)
	}
	c.ExpectSilence(t, 50*time.Millisecond)

	mods, _ := h.Modules(context.Background())
	if len(mods) != 0 {
		t.Fatalf("rejected push registered a module: %+v", mods)
	}
	srcs, _ := st.List(context.Background())
	if len(srcs) != 0 {
		t.Fatalf("rejected push reached the store: %+v", srcs)
	}
	if _, err := h.Get(context.Background(), "broken"); !IsModuleNotFound(err) {
		t.Fatalf("get: %v", err)
	}
	if names := pub.Names(); names[len(names)-1] != EventPushRejected {
		t.Fatalf("events = %v", names)
	}
}

func TestRejectedPushKeepsPreviousVersion(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := context.Background()
	if _, err := h.Push(ctx, "m", "const v = 1;"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if res, _ := h.Push(ctx, "m", "const v = ;"); res.Success {
		t.Fatalf("expected rejection")
	}
	m, err := h.Get(ctx, "m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.CompiledText != "const v=1;" || m.Source != "const v = 1;" {
		t.Fatalf("module changed by rejected push: %+v", m)
	}
}

func TestLateJoinReceivesOnlyCurrentVersions(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := context.Background()
	if _, err := h.Push(ctx, "scene", "const version = 'A';"); err != nil {
		t.Fatalf("push A: %v", err)
	}
	if _, err := h.Push(ctx, "scene", "const version = 'B';"); err != nil {
		t.Fatalf("push B: %v", err)
	}
	if _, err := h.Push(ctx, "other", "const o = 1;"); err != nil {
		t.Fatalf("push other: %v", err)
	}

	late := connect(t, h)
	expect(t, late, "load_module", "other", "const o=1;")
	expect(t, late, "load_module", "scene", `const version="B";`)
	late.ExpectSilence(t, 50*time.Millisecond)
}

func TestBootstrapSkipsModulesThatDoNotCompile(t *testing.T) {
	st := store.NewMemoryStore(
		store.Source{Name: "good", Text: "const g = 1;", UpdatedAt: time.Now()},
		store.Source{Name: "bad", Text: "functon broken(", UpdatedAt: time.Now()},
	)
	pub := NewMemoryPublisher()
	h := newTestHub(t, Config{Store: st, Publisher: pub})

	c := connect(t, h)
	expect(t, c, "load_module", "good", "const g=1;")
	c.ExpectSilence(t, 50*time.Millisecond)

	var skipped []string
	for _, e := range pub.Events() {
		if e.Name == EventBootstrapSkip {
			skipped = append(skipped, e.Module)
		}
	}
	if len(skipped) != 1 || skipped[0] != "bad" {
		t.Fatalf("skip events = %v", skipped)
	}
}

func TestBootstrapReusesCachedCompiles(t *testing.T) {
	st := store.NewMemoryStore(
		store.Source{Name: "a", Text: "const a = 1;"},
		store.Source{Name: "b", Text: "const b = 2;"},
		store.Source{Name: "c", Text: "functon c("},
	)
	cc := &countingCompiler{}
	h := newTestHub(t, Config{Store: st, Compiler: cc})

	first := connect(t, h)
	expect(t, first, "load_module", "a", "")
	expect(t, first, "load_module", "b", "")
	if n := cc.calls.Load(); n != 3 {
		t.Fatalf("first bootstrap compiled %d modules, want 3", n)
	}
	second := connect(t, h)
	expect(t, second, "load_module", "a", "const a=1;")
	expect(t, second, "load_module", "b", "const b=2;")
	if n := cc.calls.Load(); n != 3 {
		t.Fatalf("second bootstrap recompiled: %d calls", n)
	}
}

func TestRemoveBroadcastsCleanup(t *testing.T) {
	pub := NewMemoryPublisher()
	h := newTestHub(t, Config{Publisher: pub})
	c := connect(t, h)
	ctx := context.Background()

	if _, err := h.Push(ctx, "m", "const a = 1;"); err != nil {
		t.Fatalf("push: %v", err)
	}
	expect(t, c, "execute", "m", "")

	res, err := h.Remove(ctx, "m")
	if err != nil || !res.Existed || res.Delivered != 1 {
		t.Fatalf("remove: %+v %v", res, err)
	}
	expect(t, c, "cleanup_module", "m", "")

	res, err = h.Remove(ctx, "m")
	if err != nil || res.Existed {
		t.Fatalf("second remove: %+v %v", res, err)
	}
	expect(t, c, "cleanup_module", "m", "")

	removed := 0
	for _, n := range pub.Names() {
		if n == EventModuleRemoved {
			removed++
		}
	}
	if removed != 1 {
		t.Fatalf("module_removed published %d times", removed)
	}
}

func TestInvalidNames(t *testing.T) {
	h := newTestHub(t, Config{})
	for _, name := range []string{"", "../x", "a/b"} {
		if _, err := h.Push(context.Background(), name, "1"); !IsInvalidName(err) {
			t.Fatalf("push %q: %v", name, err)
		}
		if _, err := h.Remove(context.Background(), name); !IsInvalidName(err) {
			t.Fatalf("remove %q: %v", name, err)
		}
	}
}

func TestBroadcastPrunesClosedPeers(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := context.Background()

	live := transporttest.NewConn()
	lp := transport.NewPeer(live, transport.PeerOptions{})
	dead := transporttest.NewConn()
	dp := transport.NewPeer(dead, transport.PeerOptions{})
	for _, p := range []*transport.Peer{lp, dp} {
		if err := h.Attach(ctx, p); err != nil {
			t.Fatalf("attach: %v", err)
		}
		p.Start()
	}
	waitConnections(t, h, 2)
	dp.Close()

	res, err := h.Push(ctx, "m", "const a = 1;")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1", res.Delivered)
	}
	waitConnections(t, h, 1)
}

func TestDisconnectRemovesConnection(t *testing.T) {
	pub := NewMemoryPublisher()
	h := newTestHub(t, Config{Publisher: pub})
	c := connect(t, h)
	waitConnections(t, h, 1)
	_ = c.Close()
	waitConnections(t, h, 0)

	names := pub.Names()
	if names[0] != EventConnect || names[len(names)-1] != EventDisconnect {
		t.Fatalf("events = %v", names)
	}
}

func TestInboundMessagesAreOnlyRecorded(t *testing.T) {
	pub := NewMemoryPublisher()
	h := newTestHub(t, Config{Publisher: pub})
	c := connect(t, h)

	c.Inject([]byte(`{"action":"execute","name":"evil","compiledText":"x()","timestamp":1}`))
	c.Inject([]byte(`{"action":"console_log","level":"info","args":["hi"],"timestamp":1}`))
	c.Inject([]byte(`{"action":"execution_result","name":"m","success":false,"error":"boom","timestamp":1}`))

	deadline := time.Now().Add(2 * time.Second)
	for {
		var reported *Event
		for _, e := range pub.Events() {
			if e.Name == EventClientReported {
				e := e
				reported = &e
			}
		}
		if reported != nil {
			if reported.Module != "m" || reported.Fields["error"] != "boom" {
				t.Fatalf("report = %+v", reported)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no client report published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.ExpectSilence(t, 50*time.Millisecond)
	if mods, _ := h.Modules(context.Background()); len(mods) != 0 {
		t.Fatalf("inbound message changed the registry: %+v", mods)
	}
}

func TestPushPersistsToStore(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewDirStore(dir)
	if err != nil {
		t.Fatalf("dir store: %v", err)
	}
	h := newTestHub(t, Config{Store: st})
	if _, err := h.Push(context.Background(), "persisted", "const p = 1;"); err != nil {
		t.Fatalf("push: %v", err)
	}
	_ = h.Close()

	st2, _ := store.NewDirStore(dir)
	h2 := newTestHub(t, Config{Store: st2})
	c := connect(t, h2)
	expect(t, c, "load_module", "persisted", "const p=1;")
}

func TestReloadConvergesOnStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(store.Source{Name: "keep", Text: "const k = 1;"})
	h := newTestHub(t, Config{Store: st})
	c := connect(t, h)
	expect(t, c, "load_module", "keep", "")

	_ = st.Put(ctx, store.Source{Name: "added", Text: "const n = 2;"})
	_ = st.Put(ctx, store.Source{Name: "broken", Text: "functon ("})
	_ = st.Delete(ctx, "keep")

	res, err := h.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(res.Updated) != 1 || res.Updated[0] != "added" {
		t.Fatalf("updated = %v", res.Updated)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "keep" {
		t.Fatalf("removed = %v", res.Removed)
	}
	if len(res.Broken) != 1 || res.Broken[0] != "broken" {
		t.Fatalf("broken = %v", res.Broken)
	}
	expect(t, c, "execute", "added", "const n=2;")
	expect(t, c, "cleanup_module", "keep", "")
	c.ExpectSilence(t, 50*time.Millisecond)
}

func TestReloadKeepsLastGoodVersionOfBrokenSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	h := newTestHub(t, Config{Store: st})
	early := connect(t, h)
	if _, err := h.Push(ctx, "m1", "const a = 1;"); err != nil {
		t.Fatalf("push: %v", err)
	}
	expect(t, early, "execute", "m1", "const a=1;")

	_ = st.Put(ctx, store.Source{Name: "m1", Text: "functon broken("})
	res, err := h.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(res.Broken) != 1 || res.Broken[0] != "m1" || len(res.Updated) != 0 || len(res.Removed) != 0 {
		t.Fatalf("reload = %+v", res)
	}
	early.ExpectSilence(t, 50*time.Millisecond)

	m, err := h.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Source != "const a = 1;" || m.CompiledText != "const a=1;" {
		t.Fatalf("broken reload replaced the module: %+v", m)
	}
	if len(m.LastDiagnostics) == 0 {
		t.Fatalf("reload failure not recorded in diagnostics")
	}

	late := connect(t, h)
	expect(t, late, "load_module", "m1", "const a=1;")
}

func TestSweepExpiresStaleModules(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	h := newTestHub(t, Config{ModuleTTL: time.Minute, Now: func() time.Time { return clock }})
	if _, err := h.Push(ctx, "old", "const o = 1;"); err != nil {
		t.Fatalf("push: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := h.Push(ctx, "new", "const n = 1;"); err != nil {
		t.Fatalf("push: %v", err)
	}
	c := connect(t, h)
	expect(t, c, "load_module", "new", "")
	expect(t, c, "load_module", "old", "")

	n, err := h.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	expect(t, c, "cleanup_module", "old", "")
	if _, err := h.Get(ctx, "old"); !IsModuleNotFound(err) {
		t.Fatalf("old survived sweep: %v", err)
	}
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	h := newTestHub(t, Config{})
	if n, err := h.Sweep(context.Background()); n != 0 || err != nil {
		t.Fatalf("sweep = %d, %v", n, err)
	}
}

func TestClosedHubRejectsWork(t *testing.T) {
	h := newTestHub(t, Config{})
	c := connect(t, h)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !c.IsClosed() {
		t.Fatalf("close left a connection open")
	}
	if h.Ready() {
		t.Fatalf("closed hub reports ready")
	}
	if _, err := h.Push(context.Background(), "m", "const a = 1;"); !IsClosed(err) {
		t.Fatalf("push after close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
