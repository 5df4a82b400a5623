package room

// Store path layout. Everything about one room hangs under rooms/<id>;
// codes/<code> is a flat index from join code to room id.
//
//	rooms/<id>/meta          roomdto.Room
//	rooms/<id>/quiz          roomdto.QuizSnapshot
//	rooms/<id>/players/<uid> roomdto.Player
//	rooms/<id>/presence/<uid> roomdto.Presence
//	rooms/<id>/gamestate     roomdto.GameState
//	rooms/<id>/chat/<msgid>  roomdto.ChatMessage
//	rooms/<id>/shared        roomdto.SharedResource
//	rooms/<id>/leaderboard   []roomdto.LeaderboardEntry
//	codes/<code>             string (room id)

func RoomPath(roomID string) string      { return "rooms/" + roomID }
func MetaPath(roomID string) string      { return "rooms/" + roomID + "/meta" }
func QuizPath(roomID string) string      { return "rooms/" + roomID + "/quiz" }
func PlayersPath(roomID string) string   { return "rooms/" + roomID + "/players" }
func GameStatePath(roomID string) string { return "rooms/" + roomID + "/gamestate" }
func SharedPath(roomID string) string    { return "rooms/" + roomID + "/shared" }
func ChatPath(roomID string) string      { return "rooms/" + roomID + "/chat" }
func LeaderboardPath(roomID string) string { return "rooms/" + roomID + "/leaderboard" }

func PlayerPath(roomID, userID string) string   { return "rooms/" + roomID + "/players/" + userID }
func PresencePath(roomID, userID string) string { return "rooms/" + roomID + "/presence/" + userID }
func PresenceDirPath(roomID string) string      { return "rooms/" + roomID + "/presence" }
func ChatMessagePath(roomID, msgID string) string { return "rooms/" + roomID + "/chat/" + msgID }

func CodePath(code string) string { return "codes/" + code }
