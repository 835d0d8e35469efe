package sensors

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
)

func testPlan(t *testing.T) *oi.Plan {
	t.Helper()
	plan, err := oi.NewPlan(oi.DefaultPackets)
	require.NoError(t, err)
	return plan
}

func frameOf(plan *oi.Plan, values map[oi.PacketID]int) framing.Frame {
	return framing.Encode(plan.EncodePayload(values))
}

func TestButtonEdgeDetection(t *testing.T) {
	t.Parallel()

	var b Button
	var pressed, released []bool
	for _, raw := range []bool{true, true, false} {
		b.Update(raw)
		pressed = append(pressed, b.Pressed)
		released = append(released, b.Released)
	}
	assert.Equal(t, []bool{true, true, false}, pressed)
	assert.Equal(t, []bool{false, false, true}, released)

	b.Reset()
	assert.False(t, b.Pressed)
	assert.False(t, b.Released)
}

func TestButtonReleaseAutoClears(t *testing.T) {
	t.Parallel()

	var b Button
	b.Update(true)
	b.Update(false)
	require.True(t, b.Released)
	b.Update(false)
	assert.False(t, b.Released, "release should last a single update")
}

func TestDecodeButtonsThroughFrames(t *testing.T) {
	t.Parallel()

	plan := testPlan(t)
	d := NewDecoder(plan)
	st := NewState()

	spotBit := 1 << ButtonSpot
	for _, v := range []int{spotBit, spotBit, 0} {
		require.NoError(t, d.Decode(frameOf(plan, map[oi.PacketID]int{oi.PacketButtons: v}), st))
	}
	snap := st.Snapshot()
	assert.False(t, snap.Buttons[ButtonSpot].Pressed)
	assert.True(t, snap.Buttons[ButtonSpot].Released)
	assert.False(t, snap.Buttons[ButtonClean].Released)

	assert.True(t, st.TakeRelease(ButtonSpot))
	assert.False(t, st.TakeRelease(ButtonSpot), "release is consumed once")
}

func TestDecodeBitfields(t *testing.T) {
	t.Parallel()

	plan := testPlan(t)
	d := NewDecoder(plan)
	st := NewState()

	err := d.Decode(frameOf(plan, map[oi.PacketID]int{
		oi.PacketBumpsWheelDrops: 0x0A, // left wheel drop, left bump
		oi.PacketCliffFrontRight: 1,
		oi.PacketLightBumper:     0x21, // left and right zones
		oi.PacketWallSignal:      412,
		oi.PacketBatteryCharge:   1500,
		oi.PacketBatteryCapacity: 3000,
	}), st)
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.True(t, snap.WheelDropLeft)
	assert.False(t, snap.WheelDropRight)
	assert.True(t, snap.BumpLeft)
	assert.False(t, snap.BumpRight)
	assert.True(t, snap.CliffFrontRight)
	assert.True(t, snap.AnyCliff())
	assert.Equal(t, [NumLightZones]bool{true, false, false, false, false, true}, snap.LightBump)
	assert.Equal(t, 412, snap.WallSignal)
	assert.InDelta(t, 0.5, snap.Battery(), 1e-9)
	assert.Equal(t, uint64(1), snap.Frames)

	v, ok := snap.Value(oi.PacketWallSignal)
	assert.True(t, ok)
	assert.Equal(t, 412, v)
	_, ok = snap.Value(oi.PacketVoltage)
	assert.False(t, ok, "voltage is not streamed by default")
}

func TestOdometryAccumulates(t *testing.T) {
	t.Parallel()

	plan := testPlan(t)
	d := NewDecoder(plan)
	st := NewState()

	for _, delta := range []int{200, 200} {
		require.NoError(t, d.Decode(frameOf(plan, map[oi.PacketID]int{
			oi.PacketAngle:    delta,
			oi.PacketDistance: -15,
		}), st))
	}
	snap := st.Snapshot()
	assert.Equal(t, 40, snap.Angle)
	assert.Equal(t, int64(-30), snap.Distance)

	require.NoError(t, d.Decode(frameOf(plan, map[oi.PacketID]int{oi.PacketAngle: -100}), st))
	assert.Equal(t, 300, st.Snapshot().Angle)
	assert.Equal(t, int64(-30), st.Snapshot().Distance, "a frame without distance adds nothing")
}

func TestWrapAngle(t *testing.T) {
	t.Parallel()

	tests := map[int]int{0: 0, 359: 359, 360: 0, 400: 40, -1: 359, -360: 0, -725: 355}
	for in, want := range tests {
		got := WrapAngle(in)
		assert.Equal(t, want, got, "WrapAngle(%d)", in)
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, 360)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	t.Parallel()

	plan := testPlan(t)
	d := NewDecoder(plan)
	st := NewState()
	require.NoError(t, d.Decode(frameOf(plan, map[oi.PacketID]int{oi.PacketDistance: 10, oi.PacketAngle: 5}), st))
	before := st.Snapshot()

	t.Run("corrupted checksum", func(t *testing.T) {
		f := frameOf(plan, map[oi.PacketID]int{oi.PacketDistance: 500, oi.PacketBumpsWheelDrops: 0x0F})
		f[len(f)-1]++
		err := d.Decode(f, st)
		var ce *oi.ChecksumError
		require.True(t, errors.As(err, &ce), "got %v", err)
		if diff := cmp.Diff(before, st.Snapshot(), cmp.AllowUnexported(Snapshot{})); diff != "" {
			t.Errorf("snapshot changed (-before +after):\n%s", diff)
		}
	})

	t.Run("unexpected packet id", func(t *testing.T) {
		payload := plan.EncodePayload(map[oi.PacketID]int{oi.PacketDistance: 500})
		entries := plan.Entries()
		last := entries[len(entries)-1]
		payload[last.Offset] = 16
		err := d.Decode(framing.Encode(payload), st)
		var ue *oi.UnknownPacketError
		require.True(t, errors.As(err, &ue), "got %v", err)
		assert.Equal(t, oi.PacketID(16), ue.ID)
		assert.Equal(t, last.Offset, ue.Offset)
		if diff := cmp.Diff(before, st.Snapshot(), cmp.AllowUnexported(Snapshot{})); diff != "" {
			t.Errorf("distance applied from a rejected frame (-before +after):\n%s", diff)
		}
	})

	t.Run("wrong payload length", func(t *testing.T) {
		err := d.Decode(framing.Encode([]byte{7, 0}), st)
		assert.Error(t, err)
		assert.Equal(t, before.Frames, st.Snapshot().Frames)
	})
}

func TestReadingsFollowPlanOrder(t *testing.T) {
	t.Parallel()

	plan, err := oi.NewPlan([]oi.PacketID{oi.PacketAngle, oi.PacketVoltage, oi.PacketTemperature})
	require.NoError(t, err)
	d := NewDecoder(plan)

	got, err := d.Readings(frameOf(plan, map[oi.PacketID]int{
		oi.PacketAngle:       -90,
		oi.PacketVoltage:     15200,
		oi.PacketTemperature: -5,
	}))
	require.NoError(t, err)

	want := []int{-90, 15200, -5}
	require.Len(t, got, len(want))
	for i, r := range got {
		assert.Equal(t, plan.IDs()[i], r.Spec.ID)
		assert.Equal(t, want[i], r.Value)
	}
}

func TestStateConcurrentAccess(t *testing.T) {
	t.Parallel()

	plan := testPlan(t)
	d := NewDecoder(plan)
	st := NewState()
	f := frameOf(plan, map[oi.PacketID]int{oi.PacketDistance: 1, oi.PacketAngle: 1})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = d.Decode(f, st)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap := st.Snapshot()
			if snap.Angle < 0 || snap.Angle >= 360 {
				t.Errorf("angle out of range: %d", snap.Angle)
			}
			st.ResetButton(ButtonClean)
		}
	}()
	wg.Wait()

	snap := st.Snapshot()
	assert.Equal(t, int64(500), snap.Distance)
	assert.Equal(t, 500%360, snap.Angle)
}

func TestParseButton(t *testing.T) {
	t.Parallel()

	id, ok := ParseButton("dock")
	assert.True(t, ok)
	assert.Equal(t, ButtonDock, id)
	assert.Equal(t, "dock", id.String())

	_, ok = ParseButton("power")
	assert.False(t, ok)
}
