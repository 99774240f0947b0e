package state

import "fmt"

// Mode selects how state updates travel to the other members.
type Mode uint8

const (
	// ModeSignaling routes everything through the rendezvous relay.
	ModeSignaling Mode = iota
	// ModeDirect uses the mesh only and requires it to be connected.
	ModeDirect
	// ModeHybrid prefers direct links and falls back to the relay for
	// peers without an established link, decided per send.
	ModeHybrid
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "signaling":
		return ModeSignaling, nil
	case "direct":
		return ModeDirect, nil
	case "hybrid", "":
		return ModeHybrid, nil
	}
	return ModeHybrid, fmt.Errorf("unknown sync mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeSignaling:
		return "signaling"
	case ModeDirect:
		return "direct"
	case ModeHybrid:
		return "hybrid"
	}
	return "?"
}
