package sensors

// ButtonID indexes the buttons reported by the buttons packet, in bit order.
type ButtonID int

const (
	ButtonClean ButtonID = iota
	ButtonSpot
	ButtonDock
	ButtonMinute
	ButtonHour
	ButtonDay
	ButtonSchedule
	ButtonClock

	NumButtons = 8
)

var buttonNames = [NumButtons]string{"clean", "spot", "dock", "minute", "hour", "day", "schedule", "clock"}

func (b ButtonID) String() string {
	if b < 0 || int(b) >= NumButtons {
		return "button(?)"
	}
	return buttonNames[b]
}

// ParseButton maps a button name to its ID.
func ParseButton(name string) (ButtonID, bool) {
	for i, n := range buttonNames {
		if n == name {
			return ButtonID(i), true
		}
	}
	return 0, false
}

// Button is the edge-detected state of one physical button. Released is set
// only by the update on which Pressed goes from true to false and clears on
// the following update unless a consumer calls Reset first.
type Button struct {
	Pressed  bool `json:"pressed"`
	Released bool `json:"released"`
}

// Update feeds the latest raw sample.
func (b *Button) Update(down bool) {
	b.Released = b.Pressed && !down
	b.Pressed = down
}

// Reset clears both flags after a consumer has acted on them.
func (b *Button) Reset() {
	b.Pressed = false
	b.Released = false
}
