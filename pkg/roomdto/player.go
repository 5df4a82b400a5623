package roomdto

// Role determines what a room member may do during a game.
type Role string

const (
	RoleHost      Role = "host"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Player is the per-member record stored at rooms/<id>/players/<uid>.
// Score only ever grows by additive deltas applied through the store's
// per-path transaction; it is never overwritten wholesale.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Score  int    `json:"score"`
	Ready  bool   `json:"ready"`
	Online bool   `json:"online"`
	Role   Role   `json:"role"`

	// Participating only matters for the host: a host may run the game
	// without playing it.
	Participating bool `json:"participating"`

	JoinedAt   int64 `json:"joined_at"` // unix millis, election order
	LastActive int64 `json:"last_active"`

	// Answers is keyed by question id; entries are write-once.
	Answers map[string]Answer `json:"answers,omitempty"`

	// PowerUps is the per-game boost ledger, dealt fresh at game start.
	PowerUps map[PowerUpType]PowerUpState `json:"power_ups,omitempty"`
}

// Answer is the immutable per-question submission record.
type Answer struct {
	QuestionID  string `json:"question_id"`
	Choice      int    `json:"choice"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	Correct     bool   `json:"correct"`
	Points      int    `json:"points"`
	SubmittedAt int64  `json:"submitted_at"`
}

// Presence is the liveness record stored at rooms/<id>/presence/<uid>,
// independent of game data.
type Presence struct {
	Online   bool   `json:"online"`
	Name     string `json:"name"`
	LastSeen int64  `json:"last_seen"`
}
