package serialmux

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/safety"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
)

var hexSeparators = strings.NewReplacer(" ", "", ":", "", ",", "", "\n", "", "0x", "")

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(hexSeparators.Replace(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// ParseHexCommand decodes a command typed as hex, e.g. "89 00 64 7f ff".
func ParseHexCommand(s string) (oi.Command, error) {
	b, err := parseHex(s)
	if err != nil {
		return oi.Command{}, err
	}
	return oi.ParseCommand(b)
}

// ErrUngatedMotion is returned for raw commands that would set the wheels
// moving. Moving the robot goes through the motion commander so hazards
// are polled; a raw halt is allowed.
var ErrUngatedMotion = errors.New("raw command would move the wheels")

// ParseRawCommand is ParseHexCommand for the manual command routes. It
// refuses commands that move the wheels.
func ParseRawCommand(s string) (oi.Command, error) {
	cmd, err := ParseHexCommand(s)
	if err != nil {
		return oi.Command{}, err
	}
	if cmd.Moves() {
		return oi.Command{}, fmt.Errorf("%s: %w", cmd, ErrUngatedMotion)
	}
	return cmd, nil
}

// DecodedFrame is the JSON body of the frame decode tool.
type DecodedFrame struct {
	Frame  string         `json:"frame"`
	Values map[string]int `json:"values"`
	Report SensorReport   `json:"report"`
}

// DecodeCapture decodes a fixed-size capture of one frame that may start
// anywhere inside the frame, as a fixed-length read of the stream does.
func (s *SerialMux[T]) DecodeCapture(raw []byte) (DecodedFrame, error) {
	if len(raw) != s.plan.FrameLen() {
		return DecodedFrame{}, fmt.Errorf("capture is %d bytes, stream frames are %d", len(raw), s.plan.FrameLen())
	}
	f, ok := framing.Unwrap(raw, oi.ReplyHeader, byte(s.plan.PayloadLen()))
	if !ok {
		return DecodedFrame{}, fmt.Errorf("no frame header in capture")
	}
	readings, err := s.decoder.Readings(f)
	if err != nil {
		return DecodedFrame{}, err
	}
	st := sensors.NewState()
	if err := s.decoder.Decode(f, st); err != nil {
		return DecodedFrame{}, err
	}
	out := DecodedFrame{
		Frame:  hex.EncodeToString(f),
		Values: make(map[string]int, len(readings)),
		Report: NewSensorReport(st.Snapshot()),
	}
	for _, r := range readings {
		out.Values[r.Spec.Name] = r.Value
	}
	return out, nil
}

type opcodeHelp struct {
	Code byte
	Name string
}

// SensorReport is the JSON body served for the current sensor state.
type SensorReport struct {
	Snapshot    sensors.Snapshot `json:"snapshot"`
	SafeToDrive bool             `json:"safe_to_drive"`
	SafeToTurn  bool             `json:"safe_to_turn"`
	Hazards     []string         `json:"hazards"`
	Stats       *Stats           `json:"stats,omitempty"`
}

// NewSensorReport evaluates safety for snap.
func NewSensorReport(snap sensors.Snapshot) SensorReport {
	return SensorReport{
		Snapshot:    snap,
		SafeToDrive: safety.SafeToDrive(snap),
		SafeToTurn:  safety.SafeToTurn(snap),
		Hazards:     safety.Strings(safety.DriveHazards(snap)),
	}
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below API endpoints.
	debug.HandleFunc("send-command", "send a raw Open Interface command", func(w http.ResponseWriter, r *http.Request) {
		var ops []opcodeHelp
		for _, op := range []oi.Opcode{oi.OpStart, oi.OpSafe, oi.OpFull, oi.OpDrive, oi.OpDriveDirect, oi.OpPlay, oi.OpStream, oi.OpPauseResume, oi.OpStop, oi.OpReset} {
			ops = append(ops, opcodeHelp{Code: byte(op), Name: op.String()})
		}
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, ops); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to write a hex encoded command to the robot
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := strings.TrimSpace(r.FormValue("command"))
		if raw == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		cmd, err := ParseRawCommand(raw)
		if errors.Is(err, ErrUngatedMotion) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(cmd); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %s to serial port", cmd))
	})

	debug.HandleFunc("sensors", "current sensor snapshot and reader stats", func(w http.ResponseWriter, r *http.Request) {
		report := NewSensorReport(s.state.Snapshot())
		stats := s.Stats()
		report.Stats = &stats
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	})

	// API endpoint decoding a pasted capture of one frame
	debug.HandleSilentFunc("decode", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw, err := parseHex(r.FormValue("frame"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		decoded, err := s.DecodeCapture(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(decoded)
	})

	// API endpoint to issue Server-Side Events (SSE) for every decoded snapshot.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case snap, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				payload, err := json.Marshal(NewSensorReport(snap))
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
