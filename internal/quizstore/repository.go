// Package quizstore is the durable side of the engine: quiz content,
// room directory rows, finished-match history, and user notifications
// live in Postgres. Ephemeral game state stays in the real-time store;
// everything here is written best-effort after the fact.
package quizstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// ErrQuizNotFound reports a missing quiz row.
var ErrQuizNotFound = errors.New("quizstore: quiz not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// LoadQuiz fetches a quiz by id with its questions as a JSON column.
func (r *Repository) LoadQuiz(ctx context.Context, quizID string) (*roomdto.QuizSnapshot, error) {
	if r == nil || r.db == nil {
		return nil, ErrQuizNotFound
	}
	var (
		title string
		raw   []byte
	)
	q := `SELECT title, questions FROM quizzes WHERE quiz_id = $1`
	err := r.db.QueryRowContext(ctx, q, quizID).Scan(&title, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	var questions []roomdto.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("decode quiz %s: %w", quizID, err)
	}
	return &roomdto.QuizSnapshot{ID: quizID, Title: title, Questions: questions}, nil
}

// SaveRoom upserts the room directory row used for lookups after the
// ephemeral copy expires.
func (r *Repository) SaveRoom(ctx context.Context, room *roomdto.Room) error {
	if r == nil || r.db == nil || room == nil {
		return nil
	}
	settingsRaw, _ := json.Marshal(room.Settings)
	q := `INSERT INTO rooms (
	    room_id, code, name, quiz_id, owner_id, host_id,
	    max_players, is_private, status, password_hash, password_salt,
	    password_version, host_relinquished, settings, created_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	  ) ON CONFLICT (room_id) DO UPDATE SET
	    code=EXCLUDED.code,
	    name=EXCLUDED.name,
	    host_id=EXCLUDED.host_id,
	    max_players=EXCLUDED.max_players,
	    is_private=EXCLUDED.is_private,
	    status=EXCLUDED.status,
	    password_hash=EXCLUDED.password_hash,
	    password_salt=EXCLUDED.password_salt,
	    password_version=EXCLUDED.password_version,
	    host_relinquished=EXCLUDED.host_relinquished,
	    settings=EXCLUDED.settings`
	_, err := r.db.ExecContext(ctx, q,
		room.ID, room.Code, room.Name, room.QuizID, room.OwnerID, room.HostID,
		room.MaxPlayers, room.IsPrivate, string(room.Status), room.PasswordHash, room.PasswordSalt,
		room.PasswordVersion, room.HostRelinquished, string(settingsRaw), room.CreatedAt,
	)
	return err
}

// UpdateHostID mirrors a host change into the directory row.
func (r *Repository) UpdateHostID(ctx context.Context, roomID, hostID string, relinquished bool) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `UPDATE rooms SET host_id = $2, host_relinquished = $3 WHERE room_id = $1`
	_, err := r.db.ExecContext(ctx, q, roomID, hostID, relinquished)
	return err
}

// UpdateRoomStatus mirrors a lifecycle change into the directory row.
func (r *Repository) UpdateRoomStatus(ctx context.Context, roomID string, status roomdto.RoomStatus) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `UPDATE rooms SET status = $2 WHERE room_id = $1`
	_, err := r.db.ExecContext(ctx, q, roomID, string(status))
	return err
}

// RoomIDByCode resolves a join code against the directory. Returns ""
// when the code is unknown or the room already finished.
func (r *Repository) RoomIDByCode(ctx context.Context, code string) (string, error) {
	if r == nil || r.db == nil {
		return "", nil
	}
	var id string
	q := `SELECT room_id FROM rooms WHERE code = $1 AND status <> 'finished'`
	err := r.db.QueryRowContext(ctx, q, code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// CodeInUse reports whether code is held by any unfinished room.
func (r *Repository) CodeInUse(ctx context.Context, code string) (bool, error) {
	if r == nil || r.db == nil {
		return false, nil
	}
	var n int
	q := `SELECT COUNT(1) FROM rooms WHERE code = $1 AND status <> 'finished'`
	if err := r.db.QueryRowContext(ctx, q, code).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveMatchHistory records one finished match. The room_id key makes the
// write idempotent: a retried end-of-game updates rather than duplicates.
func (r *Repository) SaveMatchHistory(ctx context.Context, h *roomdto.MatchHistory) error {
	if r == nil || r.db == nil || h == nil {
		return nil
	}
	leaderboardRaw, _ := json.Marshal(h.Leaderboard)
	q := `INSERT INTO match_history (
	    room_id, room_name, quiz_id, quiz_title, total_questions,
	    leaderboard, started_at, finished_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	  ON CONFLICT (room_id) DO UPDATE SET
	    leaderboard=EXCLUDED.leaderboard,
	    finished_at=EXCLUDED.finished_at`
	_, err := r.db.ExecContext(ctx, q,
		h.RoomID, h.RoomName, h.QuizID, h.QuizTitle, h.TotalQuestions,
		string(leaderboardRaw), h.StartedAt, h.FinishedAt,
	)
	return err
}

// SaveNotification stores a user-facing notification (kick, host grant).
func (r *Repository) SaveNotification(ctx context.Context, n *roomdto.Notification) error {
	if r == nil || r.db == nil || n == nil {
		return nil
	}
	q := `INSERT INTO notifications (user_id, type, title, message, room_id, room_name, sent_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.ExecContext(ctx, q,
		n.UserID, n.Type, n.Title, n.Message, n.RoomID, n.RoomName, time.UnixMilli(n.SentAt),
	)
	return err
}
