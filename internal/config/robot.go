package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/motion"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
	"github.com/AaronTheNerd/csce274-project1/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical robot defaults file.
const DefaultConfigPath = "config/robot.defaults.json"

// NoteConfig is one alert song note.
type NoteConfig struct {
	Note     int `json:"note"`
	Duration int `json:"duration"` // 1/64ths of a second
}

// RobotConfig is the root configuration for the controller. Every field is
// optional; the Get* methods supply the default for anything left out, so
// partial configs are safe.
type RobotConfig struct {
	// Serial link
	Port        *string `json:"port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	Mode        *string `json:"mode,omitempty"` // "safe" or "full"
	Packets     []int   `json:"packets,omitempty"`
	SettleDelay *string `json:"settle_delay,omitempty"` // duration string like "20ms"
	SyncTimeout *string `json:"sync_timeout,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"`

	// Motion
	PollInterval     *string      `json:"poll_interval,omitempty"`
	MaxSpeed         *float64     `json:"max_speed,omitempty"`   // m/s
	DriveSpeed       *float64     `json:"drive_speed,omitempty"` // m/s
	WheelTrack       *float64     `json:"wheel_track,omitempty"` // m
	InterruptButtons []string     `json:"interrupt_buttons,omitempty"`
	StartButton      *string      `json:"start_button,omitempty"`
	AlertSong        []NoteConfig `json:"alert_song,omitempty"`

	// Behaviours
	PolygonSides     *int     `json:"polygon_sides,omitempty"`
	PolygonPerimeter *float64 `json:"polygon_perimeter,omitempty"` // m
	WallSetpoint     *int     `json:"wall_setpoint,omitempty"`     // raw wall signal
	WallKp           *float64 `json:"wall_kp,omitempty"`
	WallKd           *float64 `json:"wall_kd,omitempty"`

	// Outputs
	Listen  *string `json:"listen,omitempty"`
	DBPath  *string `json:"db_path,omitempty"`
	CSVPath *string `json:"csv_path,omitempty"`
}

// EmptyRobotConfig returns a RobotConfig with all fields unset.
func EmptyRobotConfig() *RobotConfig {
	return &RobotConfig{}
}

// LoadConfig loads a RobotConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*RobotConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRobotConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *RobotConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/ and cmd/roomba/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RobotConfig) Validate() error {
	if c.Mode != nil {
		if m := oi.Mode(*c.Mode); m != oi.ModeSafe && m != oi.ModeFull {
			return fmt.Errorf("mode must be %q or %q, got %q", oi.ModeSafe, oi.ModeFull, *c.Mode)
		}
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if _, err := oi.ParsePacketIDs(c.Packets); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		d    *string
	}{
		{"settle_delay", c.SettleDelay},
		{"sync_timeout", c.SyncTimeout},
		{"read_timeout", c.ReadTimeout},
		{"poll_interval", c.PollInterval},
	} {
		name, d := f.name, f.d
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *d)
		}
	}

	maxSpeed := float64(oi.MaxVelocity) / 1000
	if c.MaxSpeed != nil && (*c.MaxSpeed <= 0 || *c.MaxSpeed > maxSpeed) {
		return fmt.Errorf("max_speed must be in (0, %g], got %g", maxSpeed, *c.MaxSpeed)
	}
	if c.DriveSpeed != nil && (*c.DriveSpeed <= 0 || *c.DriveSpeed > c.GetMaxSpeed()) {
		return fmt.Errorf("drive_speed must be in (0, max_speed], got %g", *c.DriveSpeed)
	}
	if c.WheelTrack != nil && *c.WheelTrack <= 0 {
		return fmt.Errorf("wheel_track must be positive, got %g", *c.WheelTrack)
	}
	if _, err := c.GetInterruptButtons(); err != nil {
		return err
	}
	if c.StartButton != nil {
		if _, ok := sensors.ParseButton(*c.StartButton); !ok {
			return fmt.Errorf("unknown start_button %q", *c.StartButton)
		}
	}
	if _, err := c.GetAlertSong(); err != nil {
		return err
	}

	if c.PolygonSides != nil && *c.PolygonSides < 3 {
		return fmt.Errorf("polygon_sides must be at least 3, got %d", *c.PolygonSides)
	}
	if c.PolygonPerimeter != nil && *c.PolygonPerimeter <= 0 {
		return fmt.Errorf("polygon_perimeter must be positive, got %g", *c.PolygonPerimeter)
	}
	if c.WallSetpoint != nil && *c.WallSetpoint < 0 {
		return fmt.Errorf("wall_setpoint must be non-negative, got %d", *c.WallSetpoint)
	}

	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPort returns the serial device path or the default.
func (c *RobotConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return "/dev/ttyUSB0"
	}
	return *c.Port
}

// GetBaudRate returns the baud_rate value or the default.
func (c *RobotConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetMode returns the OI mode entered after start.
func (c *RobotConfig) GetMode() oi.Mode {
	if c.Mode == nil {
		return oi.ModeSafe
	}
	return oi.Mode(*c.Mode)
}

// GetPlan builds the telemetry decode plan from the packets list.
func (c *RobotConfig) GetPlan() (*oi.Plan, error) {
	return oi.ParsePacketIDs(c.Packets)
}

func (c *RobotConfig) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, serialmux.DefaultSettleDelay)
}

func (c *RobotConfig) GetSyncTimeout() time.Duration {
	return durationOr(c.SyncTimeout, framing.DefaultSyncTimeout)
}

func (c *RobotConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, serialmux.DefaultReadTimeout)
}

func (c *RobotConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, motion.DefaultPollInterval)
}

// GetMaxSpeed returns the max_speed value or the default.
func (c *RobotConfig) GetMaxSpeed() float64 {
	if c.MaxSpeed == nil {
		return motion.DefaultMaxSpeed
	}
	return *c.MaxSpeed
}

// GetDriveSpeed returns the cruising speed used by behaviours.
func (c *RobotConfig) GetDriveSpeed() float64 {
	if c.DriveSpeed == nil {
		return 0.1
	}
	return *c.DriveSpeed
}

// GetWheelTrack returns the wheel_track value or the default.
func (c *RobotConfig) GetWheelTrack() float64 {
	if c.WheelTrack == nil {
		return motion.DefaultWheelTrack
	}
	return *c.WheelTrack
}

// GetInterruptButtons resolves the button names that abort a motion.
func (c *RobotConfig) GetInterruptButtons() ([]sensors.ButtonID, error) {
	names := c.InterruptButtons
	if names == nil {
		names = []string{sensors.ButtonClean.String()}
	}
	ids := make([]sensors.ButtonID, 0, len(names))
	for _, n := range names {
		id, ok := sensors.ParseButton(strings.ToLower(strings.TrimSpace(n)))
		if !ok {
			return nil, fmt.Errorf("unknown interrupt button %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetStartButton returns the button that starts a behaviour.
func (c *RobotConfig) GetStartButton() sensors.ButtonID {
	if c.StartButton != nil {
		if id, ok := sensors.ParseButton(*c.StartButton); ok {
			return id
		}
	}
	return sensors.ButtonClean
}

// GetAlertSong converts the configured notes. An empty list disables the
// alert.
func (c *RobotConfig) GetAlertSong() ([]oi.Note, error) {
	if len(c.AlertSong) > oi.MaxSongLength {
		return nil, fmt.Errorf("alert_song has %d notes (max %d)", len(c.AlertSong), oi.MaxSongLength)
	}
	notes := make([]oi.Note, 0, len(c.AlertSong))
	for i, n := range c.AlertSong {
		if n.Note < 31 || n.Note > 127 {
			return nil, fmt.Errorf("alert_song note %d: %d is outside 31-127", i, n.Note)
		}
		if n.Duration <= 0 || n.Duration > 255 {
			return nil, fmt.Errorf("alert_song note %d: duration %d is outside 1-255", i, n.Duration)
		}
		notes = append(notes, oi.Note{Number: byte(n.Note), Duration: byte(n.Duration)})
	}
	return notes, nil
}

// GetPolygonSides returns the polygon_sides value or the default.
func (c *RobotConfig) GetPolygonSides() int {
	if c.PolygonSides == nil {
		return 4
	}
	return *c.PolygonSides
}

// GetPolygonPerimeter returns the polygon_perimeter value or the default.
func (c *RobotConfig) GetPolygonPerimeter() float64 {
	if c.PolygonPerimeter == nil {
		return 2.0
	}
	return *c.PolygonPerimeter
}

// GetWallSetpoint returns the wall signal the follower holds.
func (c *RobotConfig) GetWallSetpoint() int {
	if c.WallSetpoint == nil {
		return 40
	}
	return *c.WallSetpoint
}

// GetWallKp returns the wall_kp value or the default.
func (c *RobotConfig) GetWallKp() float64 {
	if c.WallKp == nil {
		return 0.002
	}
	return *c.WallKp
}

// GetWallKd returns the wall_kd value or the default.
func (c *RobotConfig) GetWallKd() float64 {
	if c.WallKd == nil {
		return 0.0005
	}
	return *c.WallKd
}

func (c *RobotConfig) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

func (c *RobotConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "roomba.db"
	}
	return *c.DBPath
}

// GetCSVPath returns the event CSV path; empty disables the CSV sink.
func (c *RobotConfig) GetCSVPath() string {
	if c.CSVPath == nil {
		return ""
	}
	return *c.CSVPath
}

// PortOptions returns the serial parameters for opening the port.
func (c *RobotConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.GetBaudRate()}
}

// MuxOptions returns the serial mux options. The plan must already be valid.
func (c *RobotConfig) MuxOptions() (serialmux.Options, error) {
	plan, err := c.GetPlan()
	if err != nil {
		return serialmux.Options{}, err
	}
	return serialmux.Options{
		Plan:        plan,
		SettleDelay: c.GetSettleDelay(),
		SyncTimeout: c.GetSyncTimeout(),
		ReadTimeout: c.GetReadTimeout(),
	}, nil
}

// MotionConfig returns the motion commander configuration.
func (c *RobotConfig) MotionConfig() (motion.Config, error) {
	buttons, err := c.GetInterruptButtons()
	if err != nil {
		return motion.Config{}, err
	}
	song, err := c.GetAlertSong()
	if err != nil {
		return motion.Config{}, err
	}
	return motion.Config{
		MaxSpeed:         c.GetMaxSpeed(),
		WheelTrack:       c.GetWheelTrack(),
		PollInterval:     c.GetPollInterval(),
		InterruptButtons: buttons,
		AlertSong:        song,
	}, nil
}
