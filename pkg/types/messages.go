package types

import "encoding/json"

// Peer -> Peer
//
// Every frame is an envelope whose "type" names the payload in "data":
//
// state_sync (controller -> headset, after each trial):
//   user_id: string
//   color_index: number
//   screen: "" | "login" | "nonVR" | "VR" | "complete"
//
// selection (headset -> controller, when the user confirms a color):
//   selected_color: "#RRGGBB"

type MessageType string

const (
	TypeStateSync MessageType = "state_sync"
	TypeSelection MessageType = "selection"
)

// DefaultBenchmark is assumed when an envelope leaves "benchmark" empty.
const DefaultBenchmark = "Passthrough"

type Envelope struct {
	Type      MessageType     `json:"type"`
	Benchmark string          `json:"benchmark,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type StateSync struct {
	UserID     string `json:"user_id"`
	ColorIndex int    `json:"color_index"`
	Screen     string `json:"screen"`
}

type Selection struct {
	SelectedColor string `json:"selected_color"`
}

// Message is a decoded envelope. Exactly one of StateSync and Selection is
// set, matching Type.
type Message struct {
	Type      MessageType
	Benchmark string
	StateSync *StateSync
	Selection *Selection
}

func NewStateSync(benchmark string, p StateSync) Message {
	return Message{Type: TypeStateSync, Benchmark: benchmark, StateSync: &p}
}

func NewSelection(benchmark string, p Selection) Message {
	return Message{Type: TypeSelection, Benchmark: benchmark, Selection: &p}
}
