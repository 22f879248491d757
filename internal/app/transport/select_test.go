package transport

import (
	"context"
	"testing"

	"github.com/hearby/hearby/internal/adapters/store"
	"github.com/hearby/hearby/internal/core"
)

func TestForModeSelectsImplementation(t *testing.T) {
	deps := Deps{Store: store.NewMemory()}

	tr, err := ForMode(core.TransportP2P, deps)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Mode() != core.TransportP2P {
		t.Fatalf("mode = %s, want p2p", tr.Mode())
	}

	tr, err = ForMode(core.TransportCloud, deps)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Mode() != core.TransportCloud {
		t.Fatalf("mode = %s, want cloud", tr.Mode())
	}

	if _, err := ForMode("carrier-pigeon", deps); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestCloudTracksChannelAndMute(t *testing.T) {
	tr := NewCloud()
	ctx := context.Background()

	if _, ok := tr.Channel(); ok {
		t.Fatal("fresh transport reports a channel")
	}
	if err := tr.Join(ctx, "general_9q8yy", "u1"); err != nil {
		t.Fatal(err)
	}
	if ch, ok := tr.Channel(); !ok || ch != "general_9q8yy" {
		t.Fatalf("channel = %q joined=%v", ch, ok)
	}

	tr.MuteLocal(true)
	if !tr.Muted() {
		t.Fatal("mute did not stick")
	}

	tr.Leave(ctx)
	if _, ok := tr.Channel(); ok {
		t.Fatal("channel survived leave")
	}
	if tr.RemoteStream() != nil || tr.Peers() != nil {
		t.Fatal("cloud path should carry no media state")
	}
}
