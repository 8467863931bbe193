package types

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/cogbench/internal/engine"
	wire "github.com/DoyleJ11/cogbench/pkg/types"
)

var ErrUnknownMessage = errors.New("unknown message type")
var ErrBadMessage = errors.New("bad message")

// UI -> node
const (
	ClientSetUser         = "SetUser"
	ClientSelectScreen    = "SelectScreen"
	ClientSelectColor     = "SelectColor"
	ClientRecordPath      = "RecordPath"
	ClientSubmitSelection = "SubmitSelection"
	ClientCompleteTrial   = "CompleteTrial"
	ClientReset           = "Reset"
)

// node -> UI
const (
	ServerStateSnapshot    = "StateSnapshot"
	ServerResponseRecorded = "ResponseRecorded"
	ServerError            = "Error"
)

type ClientMessage struct {
	Type   string            `json:"type"`
	UserID string            `json:"user_id,omitempty"`
	Screen string            `json:"screen,omitempty"`
	Color  string            `json:"color,omitempty"` // "#RRGGBB"
	Point  *engine.PathPoint `json:"point,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"`
	Version  int              `json:"version,omitempty"`
	State    *engine.State    `json:"state,omitempty"`
	Response *engine.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func ErrorMessage(err error) ServerMessage {
	return ServerMessage{Type: ServerError, Error: err.Error()}
}

// ToCommand turns a UI message into an engine command. Timestamps are left
// for the runner to fill in.
func ToCommand(m ClientMessage) (engine.Command, error) {
	switch m.Type {
	case ClientSetUser:
		if m.UserID == "" {
			return engine.Command{}, fmt.Errorf("%w: user_id is required", ErrBadMessage)
		}
		return engine.Command{Type: engine.CmdSetUser, UserID: m.UserID}, nil

	case ClientSelectScreen:
		screen := engine.Screen(m.Screen)
		if !screen.Valid() || screen == engine.ScreenUnset {
			return engine.Command{}, fmt.Errorf("%w: screen %q", ErrBadMessage, m.Screen)
		}
		return engine.Command{Type: engine.CmdSelectScreen, Screen: screen}, nil

	case ClientSelectColor:
		c, err := engine.ParseHex(m.Color)
		if err != nil {
			return engine.Command{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return engine.Command{Type: engine.CmdSelectColor, Color: c}, nil

	case ClientRecordPath:
		if m.Point == nil {
			return engine.Command{}, fmt.Errorf("%w: point is required", ErrBadMessage)
		}
		return engine.Command{Type: engine.CmdRecordPath, Point: *m.Point}, nil

	case ClientSubmitSelection:
		return engine.Command{Type: engine.CmdSubmitSelection}, nil

	case ClientCompleteTrial:
		return engine.Command{Type: engine.CmdCompleteTrial}, nil

	case ClientReset:
		return engine.Command{Type: engine.CmdReset}, nil

	default:
		return engine.Command{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// FromPeer maps a decoded peer message onto the command that applies it.
func FromPeer(m wire.Message) (engine.Command, error) {
	switch m.Type {
	case wire.TypeStateSync:
		if m.StateSync == nil {
			return engine.Command{}, fmt.Errorf("%w: empty state_sync", ErrBadMessage)
		}
		return engine.Command{
			Type:       engine.CmdApplyStateSync,
			UserID:     m.StateSync.UserID,
			ColorIndex: m.StateSync.ColorIndex,
			Screen:     engine.Screen(m.StateSync.Screen),
		}, nil

	case wire.TypeSelection:
		if m.Selection == nil {
			return engine.Command{}, fmt.Errorf("%w: empty selection", ErrBadMessage)
		}
		c, err := engine.ParseHex(m.Selection.SelectedColor)
		if err != nil {
			return engine.Command{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		return engine.Command{Type: engine.CmdApplySelection, Color: c}, nil

	default:
		return engine.Command{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// ToPeer builds the outgoing peer message for an engine event, if the event
// is one that crosses the link.
func ToPeer(benchmark string, ev engine.Event) (wire.Message, bool) {
	switch ev.Type {
	case engine.EvtStateBroadcast:
		return wire.NewStateSync(benchmark, wire.StateSync{
			UserID:     ev.UserID,
			ColorIndex: ev.ColorIndex,
			Screen:     string(ev.Screen),
		}), true
	case engine.EvtSelectionSubmitted:
		return wire.NewSelection(benchmark, wire.Selection{SelectedColor: ev.Color.Hex()}), true
	}
	return wire.Message{}, false
}
