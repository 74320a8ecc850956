package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEveryActionRoundTrips(t *testing.T) {
	now = func() time.Time { return time.UnixMilli(1700000000000) }
	defer func() { now = time.Now }()

	hub := []HubMessage{
		NewConnected("hello"),
		NewLoadModule("m1", "const a=1;"),
		NewExecute("m1", "const a=2;"),
		NewCleanupModule("m1"),
	}
	for _, m := range hub {
		b, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m.Kind(), err)
		}
		got, err := DecodeHub(b)
		if err != nil {
			t.Fatalf("decode %s: %v", m.Kind(), err)
		}
		if got != m {
			t.Fatalf("round trip %s: got %+v want %+v", m.Kind(), got, m)
		}
	}

	client := []ClientMessage{
		NewExecutionResult("m1", nil),
		NewExecutionResult("m1", errors.New("boom")),
		NewConsoleLog("warn", []any{"x", 1.0}),
	}
	for _, m := range client {
		b, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m.Kind(), err)
		}
		got, err := DecodeClient(b)
		if err != nil {
			t.Fatalf("decode %s: %v", m.Kind(), err)
		}
		if got.Kind() != m.Kind() {
			t.Fatalf("kind mismatch: %s vs %s", got.Kind(), m.Kind())
		}
	}

	bus := []BusEvent{
		NewConnected("events"),
		NewToolStart("1", "write_file"),
		NewToolComplete("1", "write_file"),
		NewToolFailed("2", "shell", errors.New("exit 1")),
		NewAgentThinking("hmm"),
		NewStreamStart("s1", "assistant"),
		NewStreamChunk("s1", "hel"),
		NewStreamEnd("s1"),
	}
	for _, ev := range bus {
		b, err := Encode(ev)
		if err != nil {
			t.Fatalf("encode %s: %v", ev.Kind(), err)
		}
		got, err := DecodeBus(b)
		if err != nil {
			t.Fatalf("decode %s: %v", ev.Kind(), err)
		}
		if got != ev {
			t.Fatalf("round trip %s: got %+v want %+v", ev.Kind(), got, ev)
		}
	}
}

func TestVocabulariesAreDisjoint(t *testing.T) {
	b, _ := Encode(NewToolStart("1", "x"))
	if _, err := DecodeHub(b); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("hub decoder accepted a bus event: %v", err)
	}
	b, _ = Encode(NewExecute("m", "x"))
	if _, err := DecodeBus(b); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("bus decoder accepted a hub message: %v", err)
	}
	if _, err := DecodeClient(b); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("client decoder accepted a hub message: %v", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"not-json", `{}`, `{"action":""}`} {
		if _, err := DecodeHub([]byte(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestWireFieldNames(t *testing.T) {
	b, _ := Encode(NewExecute("m1", "x()"))
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("json: %v", err)
	}
	for _, k := range []string{"action", "name", "compiledText", "timestamp"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing %q in %s", k, b)
		}
	}
	if raw["action"] != "execute" {
		t.Fatalf("action=%v", raw["action"])
	}
}
