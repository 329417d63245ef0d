package hostio

import (
	"context"
	"reflect"
	"testing"
	"time"
)

type probeIO struct {
	existing map[string]bool
	IO
}

func (p probeIO) FileExists(path string) bool {
	return p.existing[path]
}

func TestOverlayEnvOverridesAndInherits(t *testing.T) {
	base := []string{"HOME=/root", "PATH=/bin", "X=0"}
	got := OverlayEnv(base, map[string]string{"X": "1", "B": "b", "A": "a"})
	want := []string{"HOME=/root", "PATH=/bin", "A=a", "B=b", "X=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected env\nwant: %v\ngot:  %v", want, got)
	}
}

func TestOverlayEnvEmptyOverlayKeepsBase(t *testing.T) {
	base := []string{"A=1", "B=2"}
	got := OverlayEnv(base, nil)
	if !reflect.DeepEqual(got, base) {
		t.Fatalf("expected base unchanged, got %v", got)
	}
}

func TestAvailableProbesBinTrue(t *testing.T) {
	if Available(nil) {
		t.Fatalf("nil io must not be available")
	}
	if Available(probeIO{existing: map[string]bool{}}) {
		t.Fatalf("expected unavailable without %s", ProbePath)
	}
	if !Available(probeIO{existing: map[string]bool{ProbePath: true}}) {
		t.Fatalf("expected available with %s", ProbePath)
	}
}

func TestRemoteCommandQuoting(t *testing.T) {
	got := remoteCommand(Invocation{
		Executable: "/usr/bin/touch",
		Args:       []string{"a b", "quote'v"},
		Dir:        "/tmp/work dir",
		Env:        map[string]string{"Y": "2", "X": "1"},
	})
	want := `cd '/tmp/work dir' && exec env 'X=1' 'Y=2' '/usr/bin/touch' 'a b' 'quote'"'"'v'`
	if got != want {
		t.Fatalf("unexpected remote command\nwant: %s\ngot:  %s", want, got)
	}

	bare := remoteCommand(Invocation{Executable: "true"})
	if bare != "exec 'true'" {
		t.Fatalf("unexpected bare remote command: %s", bare)
	}
}

func TestSSHAddressValidation(t *testing.T) {
	r := SSH{}
	if _, err := r.address(); err == nil {
		t.Fatalf("expected host validation error")
	}

	r.Host = "node-a"
	addr, err := r.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q", addr)
	}

	r.Port = "2222"
	if addr, _ := r.address(); addr != "node-a:2222" {
		t.Fatalf("expected explicit port, got %q", addr)
	}
}

func TestSSHClientConfigValidation(t *testing.T) {
	r := SSH{Host: "node-a"}
	if _, err := r.clientConfig(); err == nil {
		t.Fatalf("expected missing user validation error")
	}
	r.User = "deploy"
	if _, err := r.clientConfig(); err == nil {
		t.Fatalf("expected missing key path validation error")
	}
}

func TestDeadlineHitOnlyForOwnTimeout(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	own, cancelOwn := context.WithTimeout(parent, time.Millisecond)
	defer cancelOwn()
	<-own.Done()
	if !deadlineHit(parent, own, time.Millisecond) {
		t.Fatalf("expired invocation timeout must count as a deadline hit")
	}

	cancelled, cancelRun := context.WithTimeout(parent, time.Hour)
	defer cancelRun()
	cancelParent()
	<-cancelled.Done()
	if deadlineHit(parent, cancelled, time.Hour) {
		t.Fatalf("parent cancellation must not count as a deadline hit")
	}

	outer, cancelOuter := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelOuter()
	<-outer.Done()
	if deadlineHit(outer, outer, 0) {
		t.Fatalf("a parent deadline without an invocation timeout is not a timeout")
	}
}
