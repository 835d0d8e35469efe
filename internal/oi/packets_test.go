package oi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan(t *testing.T) {
	t.Parallel()

	t.Run("offsets include the id byte of every packet", func(t *testing.T) {
		t.Parallel()
		plan, err := NewPlan([]PacketID{PacketBumpsWheelDrops, PacketDistance, PacketButtons})
		require.NoError(t, err)

		entries := plan.Entries()
		require.Len(t, entries, 3)
		assert.Equal(t, 0, entries[0].Offset)
		assert.Equal(t, 2, entries[1].Offset)
		assert.Equal(t, 5, entries[2].Offset)
		assert.Equal(t, 7, plan.PayloadLen())
		assert.Equal(t, 10, plan.FrameLen())
	})

	t.Run("keeps request order", func(t *testing.T) {
		t.Parallel()
		ids := []PacketID{PacketAngle, PacketBumpsWheelDrops, PacketWallSignal}
		plan, err := NewPlan(ids)
		require.NoError(t, err)
		assert.Equal(t, ids, plan.IDs())
	})

	t.Run("default packets fit in one frame", func(t *testing.T) {
		t.Parallel()
		plan, err := NewPlan(DefaultPackets)
		require.NoError(t, err)
		assert.Equal(t, 35, plan.PayloadLen())
	})

	tests := []struct {
		name string
		ids  []PacketID
		id   PacketID
	}{
		{"duplicate id", []PacketID{PacketButtons, PacketDistance, PacketButtons}, PacketButtons},
		{"unknown id", []PacketID{PacketButtons, 16}, 16},
		{"unknown id beyond catalog", []PacketID{200}, 200},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPlan(tt.ids)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.id, cfgErr.ID)
		})
	}

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()
		_, err := NewPlan(nil)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("whole catalog", func(t *testing.T) {
		t.Parallel()
		var all []PacketID
		for id := PacketID(0); id <= MaxPacketID; id++ {
			if _, ok := Lookup(id); ok {
				all = append(all, id)
			}
		}
		plan, err := NewPlan(all)
		require.NoError(t, err)
		assert.Equal(t, 125, plan.PayloadLen())
	})
}

func TestParsePacketIDs(t *testing.T) {
	plan, err := ParsePacketIDs(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPackets, plan.IDs())

	plan, err = ParsePacketIDs([]int{7, 19, 20})
	require.NoError(t, err)
	assert.Equal(t, []PacketID{7, 19, 20}, plan.IDs())

	_, err = ParsePacketIDs([]int{7, 300})
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCatalogWidthsMatchRules(t *testing.T) {
	for id := PacketID(0); id <= MaxPacketID; id++ {
		s, ok := Lookup(id)
		if !ok {
			continue
		}
		assert.Equal(t, s.Rule.Width(), s.Width, "packet %d (%s)", id, s.Name)
		assert.Equal(t, id, s.ID)
	}
}

func TestDecodeRule(t *testing.T) {
	tests := []struct {
		name string
		rule DecodeRule
		in   []byte
		want int
	}{
		{"int16 negative", RuleInt16, []byte{0xFF, 0x38}, -200},
		{"int16 positive", RuleInt16, []byte{0x00, 0xC8}, 200},
		{"uint16", RuleUint16, []byte{0xFF, 0xFF}, 65535},
		{"int8", RuleInt8, []byte{0xF6}, -10},
		{"uint8", RuleUint8, []byte{0xF6}, 246},
		{"flag set", RuleFlag, []byte{0x02}, 1},
		{"flag clear", RuleFlag, []byte{0x00}, 0},
		{"bits", RuleBits, []byte{0x0A}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Decode(tt.in))
		})
	}
}

func TestPlanStreamCommand(t *testing.T) {
	plan, err := NewPlan([]PacketID{PacketBumpsWheelDrops, PacketButtons})
	require.NoError(t, err)
	assert.Equal(t, []byte{148, 2, 7, 18}, plan.StreamCommand().Bytes())
}

func TestEncodePayload(t *testing.T) {
	plan, err := NewPlan([]PacketID{PacketBumpsWheelDrops, PacketDistance, PacketButtons})
	require.NoError(t, err)

	b := plan.EncodePayload(map[PacketID]int{
		PacketBumpsWheelDrops: 0x0C,
		PacketDistance:        -200,
	})
	assert.Equal(t, []byte{7, 0x0C, 19, 0xFF, 0x38, 18, 0x00}, b)

	for _, e := range plan.Entries() {
		assert.Equal(t, byte(e.Spec.ID), b[e.Offset])
	}
	assert.Equal(t, -200, RuleInt16.Decode(b[3:]))
}
