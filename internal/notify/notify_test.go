package notify

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestNotifier_StartStop(t *testing.T) {
	n := New("/ip4/127.0.0.1/tcp/0", "/utxoindex/touched/1.0.0", testLogger())

	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if n.host == nil {
		t.Fatal("host should not be nil after Start")
	}
	if n.gtopic == nil {
		t.Fatal("topic should not be nil after Start")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestNotifier_PublishBeforeStartIsNoop(t *testing.T) {
	n := New("/ip4/127.0.0.1/tcp/0", "/utxoindex/touched/1.0.0", testLogger())
	// Must not panic even though Start was never called.
	n.Publish([]chainhash.Fingerprint{{1, 2, 3}})
}

func TestNotifier_PublishAfterStart(t *testing.T) {
	n := New("/ip4/127.0.0.1/tcp/0", "/utxoindex/touched/1.0.0", testLogger())
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer n.Stop()

	done := make(chan struct{})
	go func() {
		n.Publish([]chainhash.Fingerprint{{9, 9, 9}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return")
	}
}
