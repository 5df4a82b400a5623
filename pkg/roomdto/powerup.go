package roomdto

// PowerUpType names a one-shot boost a player may spend during a game.
type PowerUpType string

const (
	PowerUpFiftyFifty  PowerUpType = "50-50"
	PowerUpDoubleScore PowerUpType = "x2-score"
	PowerUpFreezeTime  PowerUpType = "freeze-time"
)

// PowerUpTypes lists every power-up in display order.
var PowerUpTypes = []PowerUpType{PowerUpFiftyFifty, PowerUpDoubleScore, PowerUpFreezeTime}

// PowerUpState is one player's record for one power-up, stored inside
// the member record. Used never flips back within a game; Available can
// be toggled room-wide by the host, but an already spent power-up stays
// spent.
type PowerUpState struct {
	Type           PowerUpType `json:"type"`
	Available      bool        `json:"available"`
	Used           bool        `json:"used"`
	UsedAt         int64       `json:"used_at,omitempty"`
	UsedOnQuestion int         `json:"used_on_question"`
}
