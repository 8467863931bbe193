package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 10, 20, 12, 0, 0, 0, time.UTC)

// helper: a controller state already inside a mode
func inMode(t *testing.T, role Role, screen Screen) State {
	t.Helper()
	s := NewEmptyState(role, DefaultPalette)
	_, s, err := Apply(s, Command{Type: CmdSetUser, UserID: "a"})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdSelectScreen, Screen: screen})
	require.NoError(t, err)
	return s
}

func TestTargetColorFollowsPalette(t *testing.T) {
	s := NewEmptyState(RoleController, DefaultPalette)
	for i := range DefaultPalette {
		s.ColorIndex = i
		if got := s.TargetColor(); got != DefaultPalette[i] {
			t.Fatalf("index %d: got %s, want %s", i, got, DefaultPalette[i])
		}
	}
}

func TestScreenTransitions(t *testing.T) {
	cases := []struct {
		name    string
		setup   func() State
		cmd     Command
		wantErr error
	}{
		{
			name:    "mode needs a user",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CmdSelectScreen, Screen: ScreenVR},
			wantErr: ErrUserNotSet,
		},
		{
			name:    "login from unset",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CmdSelectScreen, Screen: ScreenLogin},
			wantErr: nil,
		},
		{
			name: "cannot jump from complete to login without reset",
			setup: func() State {
				s := NewEmptyState(RoleController, nil)
				s.Screen = ScreenComplete
				return s
			},
			cmd:     Command{Type: CmdSelectScreen, Screen: ScreenLogin},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "cannot switch modes mid session",
			setup: func() State {
				s := NewEmptyState(RoleController, nil)
				s.UserID = "a"
				s.Screen = ScreenNonVR
				return s
			},
			cmd:     Command{Type: CmdSelectScreen, Screen: ScreenVR},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "complete is not selectable",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CmdSelectScreen, Screen: ScreenComplete},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "unknown screen",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CmdSelectScreen, Screen: Screen("modeX")},
			wantErr: ErrUnknownScreen,
		},
		{
			name:    "empty user",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CmdSetUser},
			wantErr: ErrUserNotSet,
		},
		{
			name:    "trial outside a mode",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CmdCompleteTrial},
			wantErr: ErrNoActiveTrial,
		},
		{
			name:    "unsupported",
			setup:   func() State { return NewEmptyState(RoleController, nil) },
			cmd:     Command{Type: CommandType("Bogus")},
			wantErr: ErrUnsupportedCommand,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.setup()
			_, after, err := Apply(before, tc.cmd)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tc.wantErr), "want %v, got %v", tc.wantErr, err)
			assert.Equal(t, before, after, "rejected command must not change state")
		})
	}
}

func TestControllerEnteringModeBroadcasts(t *testing.T) {
	s := NewEmptyState(RoleController, nil)
	_, s, _ = Apply(s, Command{Type: CmdSetUser, UserID: "a"})
	events, _, err := Apply(s, Command{Type: CmdSelectScreen, Screen: ScreenVR})
	require.NoError(t, err)

	evt, ok := FindEvent(events, EvtStateBroadcast)
	require.True(t, ok)
	assert.Equal(t, "a", evt.UserID)
	assert.Equal(t, ScreenVR, evt.Screen)
	assert.Equal(t, 0, evt.ColorIndex)

	h := NewEmptyState(RoleHeadset, nil)
	_, h, _ = Apply(h, Command{Type: CmdSetUser, UserID: "a"})
	events, _, err = Apply(h, Command{Type: CmdSelectScreen, Screen: ScreenVR})
	require.NoError(t, err)
	assert.False(t, ContainsEvent(events, EvtStateBroadcast))
}

func TestTrialLoop_CompletesOnceAfterPaletteSizeTrials(t *testing.T) {
	s := inMode(t, RoleController, ScreenNonVR)

	completed := 0
	for i := 0; i < len(DefaultPalette); i++ {
		_, s, _ = Apply(s, Command{Type: CmdSelectColor, Color: RGB(0, 0, uint8(i))})
		events, next, err := Apply(s, Command{Type: CmdCompleteTrial, At: t0})
		require.NoError(t, err)
		completed += CountEvents(events, EvtSessionCompleted)
		assert.True(t, ContainsEvent(events, EvtStateBroadcast), "every trial broadcasts")
		s = next
	}

	assert.Equal(t, 1, completed)
	assert.Equal(t, ScreenComplete, s.Screen)
	assert.Equal(t, 0, s.ColorIndex)
	require.Len(t, s.Responses, len(DefaultPalette))
	for i, r := range s.Responses {
		assert.Equal(t, DefaultPalette[i], r.TargetColor)
		assert.Equal(t, RGB(0, 0, uint8(i)), r.SelectedColor)
		assert.Equal(t, ScreenNonVR, r.Mode)
		assert.Equal(t, "a", r.UserID)
		assert.Equal(t, t0, r.Timestamp)
	}
	assert.Equal(t, []Screen{ScreenNonVR}, s.CompletedModes)

	_, _, err := Apply(s, Command{Type: CmdCompleteTrial})
	assert.ErrorIs(t, err, ErrNoActiveTrial)
}

func TestCompleteTrial_VRModeDoesNotRecordLocally(t *testing.T) {
	s := inMode(t, RoleController, ScreenVR)
	events, s, err := Apply(s, Command{Type: CmdCompleteTrial})
	require.NoError(t, err)
	assert.False(t, ContainsEvent(events, EvtResponseRecorded))
	assert.Empty(t, s.Responses)
	assert.Equal(t, 1, s.ColorIndex)
}

func TestApplySelection_ScenarioLastColor(t *testing.T) {
	// controller sits on the last trial in VR mode
	ctrl := inMode(t, RoleController, ScreenVR)
	ctrl.ColorIndex = 4

	// headset applies the controller's sync, then reports a pick
	head := NewEmptyState(RoleHeadset, DefaultPalette)
	_, head, err := Apply(head, Command{Type: CmdApplyStateSync, UserID: "a", ColorIndex: 4, Screen: ScreenVR})
	require.NoError(t, err)
	assert.Equal(t, "a", head.UserID)
	assert.Equal(t, ScreenVR, head.Screen)

	blue := MustParseHex("#0000FF")
	_, head, _ = Apply(head, Command{Type: CmdSelectColor, Color: blue})
	events, _, err := Apply(head, Command{Type: CmdSubmitSelection})
	require.NoError(t, err)
	submitted, ok := FindEvent(events, EvtSelectionSubmitted)
	require.True(t, ok)
	assert.Equal(t, blue, submitted.Color)

	events, ctrl, err = Apply(ctrl, Command{Type: CmdApplySelection, Color: submitted.Color, At: t0})
	require.NoError(t, err)

	rec, ok := FindEvent(events, EvtResponseRecorded)
	require.True(t, ok)
	assert.Equal(t, ScreenVR, rec.Response.Mode)
	assert.Equal(t, "#AF52DE", rec.Response.TargetColor.Hex())
	assert.Equal(t, "#0000FF", rec.Response.SelectedColor.Hex())

	done, ok := FindEvent(events, EvtSessionCompleted)
	require.True(t, ok)
	assert.Len(t, done.Responses, 1)
	assert.Equal(t, ScreenVR, done.Screen)

	assert.Equal(t, ScreenComplete, ctrl.Screen)
	assert.Equal(t, 0, ctrl.ColorIndex)

	sync, ok := FindEvent(events, EvtStateBroadcast)
	require.True(t, ok)
	assert.Equal(t, ScreenComplete, sync.Screen)
	assert.Equal(t, 0, sync.ColorIndex)
}

func TestApplySelection_HeadsetRejects(t *testing.T) {
	s := inMode(t, RoleHeadset, ScreenVR)
	_, after, err := Apply(s, Command{Type: CmdApplySelection, Color: Black})
	assert.ErrorIs(t, err, ErrNotRecorder)
	assert.Equal(t, s, after)
}

func TestApplyStateSync_LastWriterWins(t *testing.T) {
	s := inMode(t, RoleHeadset, ScreenVR)
	_, s, _ = Apply(s, Command{Type: CmdSelectColor, Color: Black})

	_, s, err := Apply(s, Command{Type: CmdApplyStateSync, UserID: "b", ColorIndex: 2, Screen: ScreenNonVR})
	require.NoError(t, err)
	assert.Equal(t, "b", s.UserID)
	assert.Equal(t, 2, s.ColorIndex)
	assert.Equal(t, ScreenNonVR, s.Screen)
	assert.Equal(t, White, s.SelectedColor)

	_, after, err := Apply(s, Command{Type: CmdApplyStateSync, UserID: "b", ColorIndex: len(DefaultPalette), Screen: ScreenVR})
	assert.ErrorIs(t, err, ErrColorIndexOutOfRange)
	assert.Equal(t, s, after)
}

func TestPathCompletedCarriesTrialIndex(t *testing.T) {
	s := inMode(t, RoleController, ScreenNonVR)
	_, s, err := Apply(s, Command{Type: CmdRecordPath, Point: PathPoint{Location: Point{X: 1, Y: 2}, Radius: 3}})
	require.NoError(t, err)

	events, s, err := Apply(s, Command{Type: CmdCompleteTrial})
	require.NoError(t, err)
	evt, ok := FindEvent(events, EvtPathCompleted)
	require.True(t, ok)
	assert.Equal(t, 0, evt.ColorIndex)
	assert.Len(t, evt.Path, 1)
	assert.Empty(t, s.Path)

	events, _, _ = Apply(s, Command{Type: CmdCompleteTrial})
	assert.False(t, ContainsEvent(events, EvtPathCompleted), "no points, nothing to flush")
}

func TestApplyStateSync_FlushesHeadsetPathWhenTrialMoves(t *testing.T) {
	s := NewEmptyState(RoleHeadset, DefaultPalette)
	_, s, err := Apply(s, Command{Type: CmdApplyStateSync, UserID: "a", ColorIndex: 0, Screen: ScreenVR})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, s, err = Apply(s, Command{Type: CmdRecordPath, Point: PathPoint{Location: Point{X: float64(i)}}})
		require.NoError(t, err)
	}
	_, s, err = Apply(s, Command{Type: CmdSubmitSelection})
	require.NoError(t, err)

	// a repeated sync for the same trial keeps the path
	events, s, err := Apply(s, Command{Type: CmdApplyStateSync, UserID: "a", ColorIndex: 0, Screen: ScreenVR})
	require.NoError(t, err)
	assert.False(t, ContainsEvent(events, EvtPathCompleted))
	require.Len(t, s.Path, 3)

	events, s, err = Apply(s, Command{Type: CmdApplyStateSync, UserID: "a", ColorIndex: 1, Screen: ScreenVR})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EvtPathCompleted, events[0].Type)
	assert.Equal(t, EvtStateSynced, events[1].Type)
	assert.Equal(t, 0, events[0].ColorIndex)
	assert.Equal(t, ScreenVR, events[0].Screen)
	assert.Equal(t, "a", events[0].UserID)
	assert.Len(t, events[0].Path, 3)
	assert.Empty(t, s.Path)

	events, s, err = Apply(s, Command{Type: CmdApplyStateSync, UserID: "a", ColorIndex: 0, Screen: ScreenComplete})
	require.NoError(t, err)
	assert.False(t, ContainsEvent(events, EvtPathCompleted), "no points since the last trial")
	assert.Empty(t, s.Path)
}

func TestAcknowledgeFlushDropsOnlyListedResponses(t *testing.T) {
	s := inMode(t, RoleController, ScreenNonVR)
	for i := 0; i < 3; i++ {
		_, s, _ = Apply(s, Command{Type: CmdCompleteTrial})
	}
	require.Len(t, s.Responses, 3)

	_, s, err := Apply(s, Command{Type: CmdAcknowledgeFlush, Seqs: []int{0, 2}})
	require.NoError(t, err)
	require.Len(t, s.Responses, 1)
	assert.Equal(t, 1, s.Responses[0].Seq)
}

func TestResetKeepsUnflushedResponses(t *testing.T) {
	s := inMode(t, RoleController, ScreenNonVR)
	_, s, _ = Apply(s, Command{Type: CmdCompleteTrial})

	_, s, err := Apply(s, Command{Type: CmdReset})
	require.NoError(t, err)
	assert.Equal(t, ScreenLogin, s.Screen)
	assert.Equal(t, "", s.UserID)
	assert.Equal(t, 0, s.ColorIndex)
	assert.Len(t, s.Responses, 1)
}

func TestApplyDoesNotAliasInputState(t *testing.T) {
	s := inMode(t, RoleController, ScreenNonVR)
	_, s, _ = Apply(s, Command{Type: CmdCompleteTrial})
	before := len(s.Responses)

	_, _, err := Apply(s, Command{Type: CmdCompleteTrial})
	require.NoError(t, err)
	assert.Len(t, s.Responses, before)
}
