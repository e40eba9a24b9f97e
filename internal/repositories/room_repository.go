package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room membership lookups used for fan-out.
type RoomRepository interface {
	CreateRoom(ctx context.Context, ownerID string, name string, memberIDs []string) (models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	Members(ctx context.Context, roomID string) ([]string, error)
	IsMember(ctx context.Context, roomID string, userID string) (bool, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom creates a room and its members atomically. The owner is always a
// member; duplicates in memberIDs collapse.
func (r *RoomRepo) CreateRoom(ctx context.Context, ownerID string, name string, memberIDs []string) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	if err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (room_id, name, owner_id) VALUES (gen_random_uuid(), $1, $2) RETURNING room_id, name, owner_id, created_at`, name, ownerID).
		Scan(&room.RoomID, &room.Name, &room.OwnerID, &room.CreatedAt); err != nil {
		return models.Room{}, err
	}

	memberSet := map[string]struct{}{ownerID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	for id := range memberSet {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.RoomID, id); err != nil {
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a single room.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT room_id, name, owner_id, created_at FROM rooms WHERE room_id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// Members returns all member ids of the room, sender included.
func (r *RoomRepo) Members(ctx context.Context, roomID string) ([]string, error) {
	var members []string
	err := r.db.SelectContext(ctx, &members, `SELECT user_id FROM room_members WHERE room_id=$1 ORDER BY user_id`, roomID)
	return members, err
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}
