package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyRobotConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/ttyUSB0", cfg.GetPort())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.Equal(t, oi.ModeSafe, cfg.GetMode())
	assert.Equal(t, 20*time.Millisecond, cfg.GetSettleDelay())
	assert.Equal(t, framing.DefaultSyncTimeout, cfg.GetSyncTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetSyncTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetReadTimeout())
	assert.Equal(t, 20*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 0.5, cfg.GetMaxSpeed())
	assert.Equal(t, 0.1, cfg.GetDriveSpeed())
	assert.Equal(t, 0.235, cfg.GetWheelTrack())
	assert.Equal(t, sensors.ButtonClean, cfg.GetStartButton())
	assert.Equal(t, 4, cfg.GetPolygonSides())
	assert.Equal(t, 2.0, cfg.GetPolygonPerimeter())
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "", cfg.GetCSVPath())

	plan, err := cfg.GetPlan()
	require.NoError(t, err)
	assert.Equal(t, oi.DefaultPackets, plan.IDs())

	buttons, err := cfg.GetInterruptButtons()
	require.NoError(t, err)
	assert.Equal(t, []sensors.ButtonID{sensors.ButtonClean}, buttons)

	song, err := cfg.GetAlertSong()
	require.NoError(t, err)
	assert.Empty(t, song)
}

func TestDefaultsFileMatchesBuiltinDefaults(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := EmptyRobotConfig()

	assert.Equal(t, empty.GetPort(), cfg.GetPort())
	assert.Equal(t, empty.GetBaudRate(), cfg.GetBaudRate())
	assert.Equal(t, empty.GetMode(), cfg.GetMode())
	assert.Equal(t, empty.GetSettleDelay(), cfg.GetSettleDelay())
	assert.Equal(t, empty.GetSyncTimeout(), cfg.GetSyncTimeout())
	assert.Equal(t, empty.GetPollInterval(), cfg.GetPollInterval())
	assert.Equal(t, empty.GetMaxSpeed(), cfg.GetMaxSpeed())
	assert.Equal(t, empty.GetWheelTrack(), cfg.GetWheelTrack())
	assert.Equal(t, empty.GetWallSetpoint(), cfg.GetWallSetpoint())
	assert.Equal(t, empty.GetWallKp(), cfg.GetWallKp())
	assert.Equal(t, empty.GetWallKd(), cfg.GetWallKd())

	plan, err := cfg.GetPlan()
	require.NoError(t, err)
	assert.Equal(t, oi.DefaultPackets, plan.IDs())

	mc, err := cfg.MotionConfig()
	require.NoError(t, err)
	assert.Len(t, mc.AlertSong, 3)
	assert.Equal(t, []sensors.ButtonID{sensors.ButtonClean}, mc.InterruptButtons)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "robot.json", `{
  "port": "/dev/ttyS3",
  "mode": "full",
  "packets": [7, 18, 19, 20],
  "settle_delay": "5ms",
  "max_speed": 0.3,
  "interrupt_buttons": ["clean", "Spot"],
  "alert_song": [{"note": 60, "duration": 32}]
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS3", cfg.GetPort())
	assert.Equal(t, oi.ModeFull, cfg.GetMode())
	assert.Equal(t, 5*time.Millisecond, cfg.GetSettleDelay())

	opts, err := cfg.MuxOptions()
	require.NoError(t, err)
	assert.Equal(t, []oi.PacketID{7, 18, 19, 20}, opts.Plan.IDs())
	assert.Equal(t, 5*time.Millisecond, opts.SettleDelay)

	mc, err := cfg.MotionConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.3, mc.MaxSpeed)
	assert.Equal(t, []sensors.ButtonID{sensors.ButtonClean, sensors.ButtonSpot}, mc.InterruptButtons)
	assert.Equal(t, []oi.Note{{Number: 60, Duration: 32}}, mc.AlertSong)

	assert.Equal(t, 115200, cfg.PortOptions().BaudRate)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig("/nonexistent/path/to/robot.json")
		assert.Error(t, err)
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := writeConfig(t, "robot.yaml", "{}")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json")
	})

	t.Run("invalid json", func(t *testing.T) {
		path := writeConfig(t, "robot.json", `{"max_speed": "fast"`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		path := writeConfig(t, "robot.json", `{"port":"`+strings.Repeat("x", 1<<20)+`"}`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"passive mode", `{"mode": "passive"}`, "mode"},
		{"bad baud", `{"baud_rate": 0}`, "baud_rate"},
		{"unknown packet", `{"packets": [7, 16]}`, "unknown packet"},
		{"duplicate packet", `{"packets": [7, 7]}`, "more than once"},
		{"bad duration", `{"sync_timeout": "soon"}`, "sync_timeout"},
		{"negative duration", `{"poll_interval": "-1s"}`, "poll_interval"},
		{"speed too high", `{"max_speed": 0.8}`, "max_speed"},
		{"drive faster than max", `{"max_speed": 0.2, "drive_speed": 0.3}`, "drive_speed"},
		{"zero wheel track", `{"wheel_track": 0}`, "wheel_track"},
		{"unknown button", `{"interrupt_buttons": ["power"]}`, "power"},
		{"unknown start button", `{"start_button": "power"}`, "start_button"},
		{"note out of range", `{"alert_song": [{"note": 20, "duration": 8}]}`, "alert_song"},
		{"zero duration", `{"alert_song": [{"note": 60, "duration": 0}]}`, "duration"},
		{"triangle minimum", `{"polygon_sides": 2}`, "polygon_sides"},
		{"negative perimeter", `{"polygon_perimeter": -1}`, "polygon_perimeter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "robot.json", tt.json)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAlertSongTooLong(t *testing.T) {
	cfg := EmptyRobotConfig()
	for i := 0; i <= oi.MaxSongLength; i++ {
		cfg.AlertSong = append(cfg.AlertSong, NoteConfig{Note: 60, Duration: 8})
	}
	assert.Error(t, cfg.Validate())
}
