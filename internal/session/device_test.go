package session

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestDeviceSession_UnreachableHostFails(t *testing.T) {
	t.Parallel()

	d := NewDeviceSession(DeviceConfig{DialTimeout: 2 * time.Second})
	start := time.Now()
	err := d.Connect(t.Context(), closedEndpoint(t))
	if err == nil {
		t.Fatal("expected connect error")
	}
	if time.Since(start) > 2*time.Second+500*time.Millisecond {
		t.Errorf("connect took %v, longer than the timeout", time.Since(start))
	}
	st := d.Status()
	if st.State != Failed || st.Reason != ReasonConnectFailure {
		t.Errorf("status = %s, want failed with %q", st, ReasonConnectFailure)
	}
}

func TestDeviceSession_DialTimeout(t *testing.T) {
	t.Parallel()

	d := NewDeviceSession(DeviceConfig{
		DialTimeout: 50 * time.Millisecond,
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if err := d.Connect(t.Context(), Endpoint{Host: "10.255.255.1", Port: 8080}); err == nil {
		t.Fatal("expected timeout error")
	}
	if st := d.Status(); st.State != Failed {
		t.Errorf("state = %s, want failed", st.State)
	}
}

func TestDeviceSession_AudioAndCommands(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)

	var (
		mu    sync.Mutex
		audio bytes.Buffer
	)
	d := NewDeviceSession(DeviceConfig{
		PollInterval: time.Millisecond,
		OnAudio: func(b []byte) {
			mu.Lock()
			audio.Write(b)
			mu.Unlock()
		},
	})
	if err := d.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(d.Disconnect)
	peer := accept(t, conns)

	if !d.Connected() {
		t.Fatalf("state = %s, want connected", d.Status().State)
	}

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 3000)
	if _, err := peer.Write(pcm); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	waitFor(t, "audio", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return audio.Len() == len(pcm)
	})
	mu.Lock()
	if !bytes.Equal(audio.Bytes(), pcm) {
		t.Error("audio bytes were not forwarded verbatim")
	}
	mu.Unlock()

	d.Send("VIBRATE_TRIGGER")
	d.Send("SENSITIVITY:7")
	r := bufio.NewReader(peer)
	for _, want := range []string{"VIBRATE_TRIGGER\n", "SENSITIVITY:7\n"} {
		_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		got, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("peer read: %v", err)
		}
		if got != want {
			t.Errorf("peer got %q, want %q", got, want)
		}
	}
}

func TestDeviceSession_ConnectWhileConnectedIsNoop(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	d := NewDeviceSession(DeviceConfig{})
	if err := d.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(d.Disconnect)
	accept(t, conns)

	if err := d.Connect(t.Context(), ep); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	select {
	case <-conns:
		t.Error("second Connect opened another connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeviceSession_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	var td teardowns
	d := NewDeviceSession(DeviceConfig{OnTeardown: td.record})
	if err := d.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	accept(t, conns)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Disconnect()
		}()
	}
	wg.Wait()
	d.Disconnect()

	st := d.Status()
	if st.State != Idle || st.Reason != ReasonUserRequested {
		t.Errorf("status = %s, want idle after user request", st)
	}
	if n := td.count(); n != 1 {
		t.Errorf("teardown ran %d times, want 1", n)
	}
}

func TestDeviceSession_RemoteCloseReturnsToIdle(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	var td teardowns
	d := NewDeviceSession(DeviceConfig{OnTeardown: td.record})
	if err := d.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := accept(t, conns)
	_ = peer.Close()

	waitFor(t, "teardown", func() bool { return td.count() == 1 })
	st := d.Status()
	if st.State != Idle || st.Reason != ReasonRemoteClosed {
		t.Errorf("status = %s, want idle: remote closed", st)
	}
	if st.Remote != "" {
		t.Errorf("remote = %q, want cleared", st.Remote)
	}
}

func TestDeviceSession_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	d := NewDeviceSession(DeviceConfig{})
	d.Send("VIBRATE_TRIGGER")
	if d.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", d.Pending())
	}
}

func TestDeviceSession_WriteFailureTearsDown(t *testing.T) {
	t.Parallel()

	bc := newBrokenConn()
	bc.readTimeout = true
	var td teardowns
	d := NewDeviceSession(DeviceConfig{Dial: dialBroken(bc), OnTeardown: td.record})
	if err := d.Connect(t.Context(), Endpoint{Host: "dev", Port: 1}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d.Send("VIBRATE_TRIGGER")

	waitFor(t, "teardown", func() bool { return td.count() == 1 })
	st := d.Status()
	if st.State != Failed || st.Reason != ReasonSendFailure {
		t.Errorf("status = %s, want failed: send failure", st)
	}
}
