package serialmux

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
	"github.com/AaronTheNerd/csce274-project1/internal/timeutil"
)

func testPlan(t *testing.T) *oi.Plan {
	t.Helper()
	plan, err := oi.NewPlan([]oi.PacketID{oi.PacketBumpsWheelDrops, oi.PacketButtons, oi.PacketDistance, oi.PacketAngle})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}

func newTestMux(t *testing.T) (*SerialMux[*TestableSerialPort], *TestableSerialPort) {
	t.Helper()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port, Options{
		Plan:        testPlan(t),
		ReadTimeout: 5 * time.Millisecond,
		SyncTimeout: 50 * time.Millisecond,
	})
	return mux, port
}

// TestNewSerialMux tests creation of a new SerialMux
func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port, Options{})

	if mux.port != port {
		t.Error("SerialMux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("SerialMux subscribers map not initialized")
	}
	if mux.State() == nil {
		t.Error("SerialMux state not initialized")
	}
	if got := mux.Plan().IDs(); len(got) != len(oi.DefaultPackets) {
		t.Errorf("default plan has %d packets, want %d", len(got), len(oi.DefaultPackets))
	}
	if port.ReadTimeout != DefaultReadTimeout {
		t.Errorf("read timeout = %v, want %v", port.ReadTimeout, DefaultReadTimeout)
	}
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux, _ := newTestMux(t)

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == "" || id1 == id2 {
		t.Fatalf("bad subscription ids %q %q", id1, id2)
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("Expected channel to be closed")
	}

	// Should not panic
	mux.Unsubscribe("non-existent-id")

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 1 {
		t.Errorf("Expected 1 subscriber, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()
}

func TestSerialMux_SendCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  oi.Command
		want []byte
	}{
		{"start", oi.Start(), []byte{128}},
		{"safe", oi.Safe(), []byte{131}},
		{"drive straight", oi.Drive(100, oi.RadiusStraight), []byte{137, 0x00, 0x64, 0x7F, 0xFF}},
		{"halt", oi.Halt(), []byte{137, 0, 0, 0x7F, 0xFF}},
		{"stop", oi.Stop(), []byte{173}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, port := newTestMux(t)
			if err := mux.SendCommand(tt.cmd); err != nil {
				t.Fatalf("SendCommand returned error: %v", err)
			}
			if got := port.GetWrittenData(); !bytes.Equal(got, tt.want) {
				t.Errorf("wrote % X, want % X", got, tt.want)
			}
		})
	}
}

func TestSerialMux_SendCommand_Errors(t *testing.T) {
	mux, port := newTestMux(t)

	port.WriteError = errors.New("device unplugged")
	if err := mux.SendCommand(oi.Start()); err == nil || err.Error() != "device unplugged" {
		t.Errorf("SendCommand error = %v, want device unplugged", err)
	}

	port.ShortWrite = true
	if err := mux.SendCommand(oi.Halt()); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write error = %v, want ErrWriteFailed", err)
	}
	port.ShortWrite = false

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mux.SendCommand(oi.Start()); !errors.Is(err, ErrClosed) {
		t.Errorf("SendCommand after Close = %v, want ErrClosed", err)
	}
}

func TestSerialMux_SettleDelay(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := NewTestableSerialPort()
	mux := NewSerialMux(port, Options{Plan: testPlan(t), SettleDelay: 50 * time.Millisecond, Clock: clock})

	for i := 0; i < 3; i++ {
		if err := mux.SendCommand(oi.Halt()); err != nil {
			t.Fatal(err)
		}
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 3 {
		t.Fatalf("settle delay applied %d times, want 3", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 50*time.Millisecond {
			t.Errorf("settled for %v, want 50ms", d)
		}
	}
}

// Concurrent writers must never interleave the bytes of two commands.
func TestSerialMux_SendCommand_Exclusive(t *testing.T) {
	mux, port := newTestMux(t)
	port.WriteLatency = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v int16) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := mux.SendCommand(oi.Drive(v, oi.RadiusStraight)); err != nil {
					t.Errorf("SendCommand: %v", err)
				}
			}
		}(int16(i * 10))
	}
	wg.Wait()

	written := port.GetWrittenData()
	if len(written) != 8*5*5 {
		t.Fatalf("wrote %d bytes, want %d", len(written), 8*5*5)
	}
	for off := 0; off < len(written); off += 5 {
		cmd, err := oi.ParseCommand(written[off : off+5])
		if err != nil {
			t.Fatalf("interleaved write at %d: % X: %v", off, written[off:off+5], err)
		}
		if _, radius, _ := cmd.DriveOperands(); radius != oi.RadiusStraight {
			t.Fatalf("interleaved write at %d: % X", off, written[off:off+5])
		}
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	mux, port := newTestMux(t)
	if err := mux.Initialize(oi.ModeSafe); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	want := []byte{128, 131, 148, 4, 7, 18, 19, 20}
	if got := port.GetWrittenData(); !bytes.Equal(got, want) {
		t.Errorf("wrote % X, want % X", got, want)
	}

	if err := mux.Initialize("passive"); err == nil {
		t.Error("Initialize accepted an unsupported mode")
	}
}

func TestSerialMux_Monitor(t *testing.T) {
	mux, port := newTestMux(t)
	plan := mux.Plan()

	good := func(dist int, buttons int) []byte {
		return framing.Encode(plan.EncodePayload(map[oi.PacketID]int{
			oi.PacketDistance: dist,
			oi.PacketButtons:  buttons,
			oi.PacketAngle:    200,
		}))
	}
	corrupt := good(1000, 0)
	corrupt[len(corrupt)-1] ^= 0x55

	var stream []byte
	stream = append(stream, 0xAA, 0x13, 0x00)
	stream = append(stream, good(10, 1)...)
	stream = append(stream, corrupt...)
	stream = append(stream, good(10, 0)...)
	port.AddReadData(stream)

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
	}
	deadline := time.Now().Add(2 * time.Second)
	for mux.Stats().Frames < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames decoded", mux.Stats().Frames)
		}
		time.Sleep(time.Millisecond)
	}

	last := mux.State().Snapshot()
	if last.Distance != 20 {
		t.Errorf("Distance = %d, want 20 (corrupt frame must not apply)", last.Distance)
	}
	if last.Angle != 40 {
		t.Errorf("Angle = %d, want 40", last.Angle)
	}
	if !last.Buttons[sensors.ButtonClean].Released {
		t.Error("clean button release not detected")
	}

	stats := mux.Stats()
	if stats.Frames != 2 || stats.ChecksumErrors != 1 {
		t.Errorf("stats = %+v, want 2 frames and 1 checksum error", stats)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop after cancel")
	}
}

func TestSerialMux_Monitor_UnknownPacketKeepsReading(t *testing.T) {
	mux, port := newTestMux(t)
	plan := mux.Plan()

	bad := plan.EncodePayload(map[oi.PacketID]int{oi.PacketDistance: 99})
	bad[0] = 16 // no such packet
	port.AddReadData(framing.Encode(bad))
	port.AddReadData(framing.Encode(plan.EncodePayload(map[oi.PacketID]int{oi.PacketDistance: 7})))

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	select {
	case snap := <-ch:
		if snap.Distance != 7 {
			t.Errorf("Distance = %d, want 7", snap.Distance)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	if got := mux.Stats().UnknownPackets; got != 1 {
		t.Errorf("UnknownPackets = %d, want 1", got)
	}
}

func TestSerialMux_Monitor_ReadError(t *testing.T) {
	mux, port := newTestMux(t)
	port.ReadError = errors.New("i/o error")

	err := mux.Monitor(context.Background())
	if err == nil || err.Error() != "i/o error" {
		t.Errorf("Monitor returned %v, want i/o error", err)
	}
}

func TestSerialMux_Monitor_SyncTimeoutIsRecoverable(t *testing.T) {
	mux, port := newTestMux(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		time.Sleep(120 * time.Millisecond)
		port.AddReadData(framing.Encode(mux.Plan().EncodePayload(nil)))
	}()

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()

	select {
	case <-ch:
	case err := <-errCh:
		t.Fatalf("Monitor returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after the robot resumed")
	}
	if mux.Stats().SyncTimeouts == 0 {
		t.Error("expected at least one sync timeout while the port was silent")
	}
}

func TestSerialMux_Close(t *testing.T) {
	mux, port := newTestMux(t)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed")
	}
	if !port.Closed {
		t.Error("port not closed")
	}
	want := append(oi.Halt().Bytes(), oi.Stop().Bytes()...)
	if got := port.GetWrittenData(); !bytes.Equal(got, want) {
		t.Errorf("Close wrote % X, want halt then stop % X", got, want)
	}

	port.CloseError = errors.New("already closed")
	if err := mux.Close(); err == nil {
		t.Error("expected close error to propagate")
	}
}
