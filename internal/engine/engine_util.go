package engine

func NewEmptyState(role Role, palette Palette) State {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return State{
		Role:          role,
		Screen:        ScreenUnset,
		ColorIndex:    0,
		SelectedColor: White,
		Responses:     []Response{},
		Palette:       palette,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// FindEvent returns the first event of the given type.
func FindEvent(events []Event, eventType EventType) (Event, bool) {
	for _, event := range events {
		if event.Type == eventType {
			return event, true
		}
	}
	return Event{}, false
}

func CountEvents(events []Event, eventType EventType) int {
	n := 0
	for _, event := range events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}
