package engine

import (
	"errors"
	"slices"
	"time"
)

var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrInvalidTransition = errors.New("invalid screen transition")
var ErrUserNotSet = errors.New("user is not set")
var ErrNoActiveTrial = errors.New("no active trial")
var ErrNotRecorder = errors.New("role does not record remote selections")
var ErrColorIndexOutOfRange = errors.New("color index out of range")
var ErrUnknownScreen = errors.New("unknown screen")

type Role string

const (
	RoleController Role = "controller"
	RoleHeadset    Role = "headset"
)

func (r Role) Valid() bool { return r == RoleController || r == RoleHeadset }

type Screen string

const (
	ScreenUnset    Screen = ""
	ScreenLogin    Screen = "login"
	ScreenNonVR    Screen = "nonVR"
	ScreenVR       Screen = "VR"
	ScreenComplete Screen = "complete"
)

func (s Screen) Valid() bool {
	switch s {
	case ScreenUnset, ScreenLogin, ScreenNonVR, ScreenVR, ScreenComplete:
		return true
	}
	return false
}

// IsMode reports whether the screen runs the trial loop.
func (s Screen) IsMode() bool { return s == ScreenNonVR || s == ScreenVR }

// Response is one completed trial. Seq only identifies the record in memory.
type Response struct {
	Seq           int       `json:"-"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	Mode          Screen    `json:"mode"`
	TargetColor   Color     `json:"target_color"`
	SelectedColor Color     `json:"selected_color"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathPoint is one sample of the picker pointer while a trial runs.
type PathPoint struct {
	Location   Point   `json:"location"`
	Center     Point   `json:"center"`
	Radius     float64 `json:"radius"`
	Saturation float64 `json:"saturation"`
}

type State struct {
	Role           Role        `json:"role"`
	Screen         Screen      `json:"screen"`
	ColorIndex     int         `json:"color_index"`
	SelectedColor  Color       `json:"selected_color"`
	UserID         string      `json:"user_id"`
	Responses      []Response  `json:"responses"`
	Path           []PathPoint `json:"-"`
	Palette        Palette     `json:"palette"`
	CompletedModes []Screen    `json:"completed_modes"`
	NextSeq        int         `json:"-"`
}

// TargetColor is the palette entry for the current trial.
func (s State) TargetColor() Color {
	c, _ := s.Palette.At(s.ColorIndex)
	return c
}

type CommandType string

const (
	CmdSetUser          CommandType = "SetUser"
	CmdSelectScreen     CommandType = "SelectScreen"
	CmdSelectColor      CommandType = "SelectColor"
	CmdRecordPath       CommandType = "RecordPath"
	CmdSubmitSelection  CommandType = "SubmitSelection"
	CmdCompleteTrial    CommandType = "CompleteTrial"
	CmdApplyStateSync   CommandType = "ApplyStateSync"
	CmdApplySelection   CommandType = "ApplySelection"
	CmdAcknowledgeFlush CommandType = "AcknowledgeFlush"
	CmdReset            CommandType = "Reset"
)

/*
	Local UI:
	CmdSetUser / CmdSelectScreen / CmdSelectColor / CmdRecordPath -> state only
	CmdSubmitSelection -> EvtSelectionSubmitted (headset tells the controller)
	CmdCompleteTrial   -> [EvtResponseRecorded] -> [EvtPathCompleted] -> EvtTrialAdvanced or EvtSessionCompleted -> EvtStateBroadcast

	Remote:
	CmdApplyStateSync -> [EvtPathCompleted] -> EvtStateSynced
	CmdApplySelection -> EvtResponseRecorded -> trial loop as above
*/

type Command struct {
	Type       CommandType
	UserID     string
	Screen     Screen
	ColorIndex int
	Color      Color
	Point      PathPoint
	Seqs       []int
	At         time.Time
}

type EventType string

const (
	EvtUserChanged        EventType = "UserChanged"
	EvtScreenChanged      EventType = "ScreenChanged"
	EvtColorSelected      EventType = "ColorSelected"
	EvtPathRecorded       EventType = "PathRecorded"
	EvtSelectionSubmitted EventType = "SelectionSubmitted"
	EvtResponseRecorded   EventType = "ResponseRecorded"
	EvtPathCompleted      EventType = "PathCompleted"
	EvtTrialAdvanced      EventType = "TrialAdvanced"
	EvtSessionCompleted   EventType = "SessionCompleted"
	EvtStateBroadcast     EventType = "StateBroadcast"
	EvtStateSynced        EventType = "StateSynced"
	EvtFlushAcknowledged  EventType = "FlushAcknowledged"
	EvtReset              EventType = "Reset"
)

type Event struct {
	Type       EventType
	UserID     string
	Screen     Screen
	ColorIndex int
	Color      Color
	Response   *Response
	Responses  []Response
	Path       []PathPoint
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	if len(s.Palette) == 0 {
		return nil, s, ErrEmptyPalette
	}

	newState := s.clone()

	switch cmd.Type {
	case CmdSetUser:
		if cmd.UserID == "" {
			return nil, s, ErrUserNotSet
		}
		if s.Screen != ScreenUnset && s.Screen != ScreenLogin {
			return nil, s, ErrInvalidTransition
		}
		newState.UserID = cmd.UserID
		newState.CompletedModes = nil
		return []Event{{Type: EvtUserChanged, UserID: cmd.UserID}}, newState, nil

	case CmdSelectScreen:
		if !cmd.Screen.Valid() {
			return nil, s, ErrUnknownScreen
		}
		if s.Screen != ScreenUnset && s.Screen != ScreenLogin {
			return nil, s, ErrInvalidTransition
		}
		if cmd.Screen != ScreenLogin && !cmd.Screen.IsMode() {
			return nil, s, ErrInvalidTransition
		}
		if cmd.Screen.IsMode() && s.UserID == "" {
			return nil, s, ErrUserNotSet
		}
		newState.Screen = cmd.Screen
		events := []Event{{Type: EvtScreenChanged, Screen: cmd.Screen}}
		// The controller pulls the headset into the mode it just opened.
		if s.Role == RoleController && cmd.Screen.IsMode() {
			events = append(events, broadcastOf(newState))
		}
		return events, newState, nil

	case CmdSelectColor:
		newState.SelectedColor = cmd.Color
		return []Event{{Type: EvtColorSelected, Color: cmd.Color}}, newState, nil

	case CmdRecordPath:
		if !s.Screen.IsMode() {
			return nil, s, ErrNoActiveTrial
		}
		newState.Path = append(newState.Path, cmd.Point)
		return []Event{{Type: EvtPathRecorded}}, newState, nil

	case CmdSubmitSelection:
		if !s.Screen.IsMode() {
			return nil, s, ErrNoActiveTrial
		}
		return []Event{{Type: EvtSelectionSubmitted, Color: s.SelectedColor}}, newState, nil

	case CmdCompleteTrial:
		if !s.Screen.IsMode() {
			return nil, s, ErrNoActiveTrial
		}
		var events []Event
		if s.Screen == ScreenNonVR {
			events = append(events, record(&newState, s.SelectedColor, cmd.At))
		}
		events = advanceTrial(&newState, events)
		return events, newState, nil

	case CmdApplyStateSync:
		if _, ok := s.Palette.At(cmd.ColorIndex); !ok {
			return nil, s, ErrColorIndexOutOfRange
		}
		if !cmd.Screen.Valid() {
			return nil, s, ErrUnknownScreen
		}
		// The controller ended the trial our path belongs to.
		var events []Event
		if len(s.Path) > 0 && (cmd.ColorIndex != s.ColorIndex || cmd.Screen != s.Screen) {
			events = append(events, Event{
				Type:       EvtPathCompleted,
				UserID:     s.UserID,
				Screen:     s.Screen,
				ColorIndex: s.ColorIndex,
				Path:       newState.Path,
			})
			newState.Path = nil
		}
		// Last writer wins: the controller is the only peer that sends these.
		newState.UserID = cmd.UserID
		newState.ColorIndex = cmd.ColorIndex
		newState.Screen = cmd.Screen
		newState.SelectedColor = White
		events = append(events, Event{
			Type:       EvtStateSynced,
			UserID:     cmd.UserID,
			ColorIndex: cmd.ColorIndex,
			Screen:     cmd.Screen,
		})
		return events, newState, nil

	case CmdApplySelection:
		if s.Role != RoleController {
			return nil, s, ErrNotRecorder
		}
		if !s.Screen.IsMode() {
			return nil, s, ErrNoActiveTrial
		}
		// Target comes from our own index, the selection from the headset.
		events := []Event{record(&newState, cmd.Color, cmd.At)}
		events = advanceTrial(&newState, events)
		return events, newState, nil

	case CmdAcknowledgeFlush:
		newState.Responses = slices.DeleteFunc(newState.Responses, func(r Response) bool {
			return slices.Contains(cmd.Seqs, r.Seq)
		})
		return []Event{{Type: EvtFlushAcknowledged}}, newState, nil

	case CmdReset:
		newState.UserID = ""
		newState.Screen = ScreenLogin
		newState.ColorIndex = 0
		newState.SelectedColor = White
		newState.Path = nil
		newState.CompletedModes = nil
		// Unflushed responses stay until a later flush succeeds.
		return []Event{{Type: EvtReset}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func record(s *State, selected Color, at time.Time) Event {
	resp := Response{
		Seq:           s.NextSeq,
		Timestamp:     at,
		UserID:        s.UserID,
		Mode:          s.Screen,
		TargetColor:   s.TargetColor(),
		SelectedColor: selected,
	}
	s.NextSeq++
	s.Responses = append(s.Responses, resp)
	return Event{Type: EvtResponseRecorded, Response: &resp}
}

// advanceTrial runs the tail of the trial loop once the response, if any,
// has been recorded.
func advanceTrial(s *State, events []Event) []Event {
	if len(s.Path) > 0 {
		events = append(events, Event{
			Type:       EvtPathCompleted,
			UserID:     s.UserID,
			Screen:     s.Screen,
			ColorIndex: s.ColorIndex,
			Path:       s.Path,
		})
		s.Path = nil
	}

	if s.Palette.IsLast(s.ColorIndex) {
		mode := s.Screen
		s.ColorIndex = 0
		s.Screen = ScreenComplete
		if !slices.Contains(s.CompletedModes, mode) {
			s.CompletedModes = append(s.CompletedModes, mode)
		}
		events = append(events, Event{
			Type:      EvtSessionCompleted,
			UserID:    s.UserID,
			Screen:    mode,
			Responses: slices.Clone(s.Responses),
		})
	} else {
		s.ColorIndex++
		events = append(events, Event{Type: EvtTrialAdvanced, ColorIndex: s.ColorIndex})
	}

	s.SelectedColor = White
	return append(events, broadcastOf(*s))
}

func broadcastOf(s State) Event {
	return Event{
		Type:       EvtStateBroadcast,
		UserID:     s.UserID,
		ColorIndex: s.ColorIndex,
		Screen:     s.Screen,
	}
}

func (s State) clone() State {
	c := s
	c.Responses = slices.Clone(s.Responses)
	c.Path = slices.Clone(s.Path)
	c.CompletedModes = slices.Clone(s.CompletedModes)
	return c
}
