package advertiser

import (
	"errors"
	"testing"
	"time"
)

// fakeRadio notifies synchronously from inside Begin, the worst case for locking.
type fakeRadio struct {
	capability    Capability
	panicOnCap    bool
	panicOnBegin  bool
	endErr        error
	ended         int
	syncStatus    Status
	returnNilCast bool
	notifies      []StartNotifier
}

type fakeBroadcast struct{ r *fakeRadio }

func (b *fakeBroadcast) End() error {
	b.r.ended++
	return b.r.endErr
}

func (r *fakeRadio) Capability() (Capability, error) {
	if r.panicOnCap {
		panic("adapter service died")
	}
	return r.capability, nil
}

func (r *fakeRadio) Begin(p *Payload, notify StartNotifier) (Broadcast, error) {
	if r.panicOnBegin {
		panic("null advertiser")
	}
	notify(r.syncStatus, "")
	r.notifies = append(r.notifies, notify)
	if r.returnNilCast {
		return nil, nil
	}
	return &fakeBroadcast{r: r}, nil
}

func fullCapability() Capability {
	return Capability{AdapterPresent: true, Powered: true, PeripheralSupported: true}
}

func TestIsSupportedRecoversPanic(t *testing.T) {
	c := NewController(&fakeRadio{panicOnCap: true})
	if c.IsSupported() {
		t.Error("Panicking capability query should read as unsupported")
	}
	if _, err := c.Start("ABC"); KindOf(err) != RadioUnavailable {
		t.Errorf("Expected RadioUnavailable, got %v", err)
	}
}

func TestBeginPanicIsPlatformError(t *testing.T) {
	c := NewController(&fakeRadio{capability: fullCapability(), panicOnBegin: true})
	_, err := c.Start("ABC")
	if KindOf(err) != PlatformError {
		t.Fatalf("Expected PlatformError, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected Idle, got %s", c.State())
	}
}

func TestNilBroadcastIsPlatformError(t *testing.T) {
	c := NewController(&fakeRadio{capability: fullCapability(), returnNilCast: true})
	if _, err := c.Start("ABC"); KindOf(err) != PlatformError {
		t.Fatalf("Expected PlatformError, got %v", err)
	}
}

func TestSynchronousNotifyDoesNotDeadlock(t *testing.T) {
	c := NewController(&fakeRadio{capability: fullCapability()})
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Start("ABC")
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start deadlocked on a synchronous notification")
	}

	select {
	case conf := <-c.Confirmations():
		if !conf.OK() {
			t.Errorf("Expected success, got %s", conf.Status)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timeout waiting for confirmation")
	}
}

func TestStopSwallowsEndError(t *testing.T) {
	r := &fakeRadio{capability: fullCapability(), endErr: errors.New("gatt service gone")}
	c := NewController(r, WithConfirmationBuffer(0))
	defer c.Close()

	if _, err := c.Start("ABC"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := c.Stop(); got != Stopped {
		t.Errorf("Expected Stopped despite end error, got %s", got)
	}
	if r.ended != 1 || c.State() != Idle {
		t.Errorf("Expected one End call and Idle, got ended=%d state=%s", r.ended, c.State())
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != 0 {
		t.Error("nil error should have no kind")
	}
	if KindOf(errors.New("raw")) != PlatformError {
		t.Error("foreign errors should be PlatformError")
	}
	err := newError(PayloadTooLarge, errors.New("cause"), "too big")
	if err.Error() != "PayloadTooLarge: too big" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if PayloadTooLarge.Code() != "PAYLOAD_TOO_LARGE" || AdvertisingUnsupported.Code() != "BLE_NOT_SUPPORTED" {
		t.Error("Unexpected codes")
	}
}

func waitForStatus(t *testing.T, c *Controller, status Status) Confirmation {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case conf := <-c.Confirmations():
			if conf.Status == status {
				return conf
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for %s", status)
		}
	}
}

func TestReleaseOfSupersededBroadcastIgnored(t *testing.T) {
	r := &fakeRadio{capability: fullCapability()}
	c := NewController(r)
	defer c.Close()

	if _, err := c.Start("FIRST"); err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	second, err := c.Start("SECOND")
	if err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	r.notifies[0](StatusReleased, "old advertisement released")
	conf := waitForStatus(t, c, StatusReleased)
	if conf.Generation == second.Generation {
		t.Fatalf("Release was attributed to the live session: %+v", conf)
	}
	if session, ok := c.Session(); !ok || session.Token != "SECOND" {
		t.Errorf("Stale release should not end SECOND, got %+v ok=%v", session, ok)
	}

	r.notifies[1](StatusReleased, "adapter gone")
	waitForStatus(t, c, StatusReleased)
	if c.State() != Idle {
		t.Errorf("Release of the live session should return to Idle, got %s", c.State())
	}
	if got := c.Stop(); got != NoActiveSession {
		t.Errorf("Expected no active session after release, got %s", got)
	}
}
