// Package gormstore implements the store repositories over a gorm-managed
// sqlite database. Reader and reaction state rides in JSON-serialized
// columns; messages are append-only apart from those and the soft-delete
// flag.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/store"
)

// Store bundles every repository over one gorm connection.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path (":memory:" for tests) and
// migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&userRow{}, &roomRow{}, &messageRow{}, &fileRow{}, &sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type userRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Email        string
	ProfileImage string
}

func (userRow) TableName() string { return "users" }

type roomRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	PasswordHash string
	CreatorID    string
	Participants []string `gorm:"serializer:json"`
	CreatedAt    time.Time
}

func (roomRow) TableName() string { return "rooms" }

type messageRow struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"index:idx_messages_room_created,priority:1"`
	SenderID  string
	Content   string
	Kind      string
	FileID    string
	AIModel   string
	CreatedAt time.Time           `gorm:"index:idx_messages_room_created,priority:2"`
	Readers   []chat.Reader       `gorm:"serializer:json"`
	Reactions map[string][]string `gorm:"serializer:json"`
	Deleted   bool
}

func (messageRow) TableName() string { return "messages" }

type fileRow struct {
	ID           string `gorm:"primaryKey"`
	Filename     string
	OriginalName string
	MimeType     string
	Size         int64
}

func (fileRow) TableName() string { return "files" }

type sessionRow struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	CreatedAt    time.Time
	LastActivity time.Time
}

func (sessionRow) TableName() string { return "sessions" }

// Seed helpers for dev wiring and tests.

func (s *Store) PutUser(ctx context.Context, u chat.User) error {
	row := userRow{ID: u.ID, Name: u.Name, Email: u.Email, ProfileImage: u.ProfileImage}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) PutRoom(ctx context.Context, r chat.Room) error {
	row := roomRow{
		ID:           r.ID,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		CreatorID:    r.CreatorID,
		Participants: r.Participants,
		CreatedAt:    r.CreatedAt,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) PutFile(ctx context.Context, f chat.File) error {
	row := fileRow{ID: f.ID, Filename: f.Filename, OriginalName: f.OriginalName, MimeType: f.MimeType, Size: f.Size}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) PutSession(ctx context.Context, sess chat.Session) error {
	row := sessionRow{ID: sess.ID, UserID: sess.UserID, CreatedAt: sess.CreatedAt, LastActivity: sess.LastActivity}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) GetUser(ctx context.Context, id string) (chat.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return chat.User{}, mapErr(err)
	}
	return chat.User{ID: row.ID, Name: row.Name, Email: row.Email, ProfileImage: row.ProfileImage}, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (chat.Room, error) {
	var row roomRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return chat.Room{}, mapErr(err)
	}
	return roomFromRow(row), nil
}

func (s *Store) AddParticipant(ctx context.Context, roomID, userID string) (chat.Room, error) {
	var out chat.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row roomRow
		if err := tx.First(&row, "id = ?", roomID).Error; err != nil {
			return mapErr(err)
		}
		if !contains(row.Participants, userID) {
			row.Participants = append(row.Participants, userID)
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		out = roomFromRow(row)
		return nil
	})
	return out, err
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID string) (chat.Room, error) {
	var out chat.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row roomRow
		if err := tx.First(&row, "id = ?", roomID).Error; err != nil {
			return mapErr(err)
		}
		kept := row.Participants[:0]
		for _, p := range row.Participants {
			if p != userID {
				kept = append(kept, p)
			}
		}
		row.Participants = kept
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = roomFromRow(row)
		return nil
	})
	return out, err
}

func (s *Store) CreateMessage(ctx context.Context, msg *chat.Message) error {
	row := messageRow{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Kind:      string(msg.Kind),
		FileID:    msg.FileID,
		AIModel:   msg.AIModel,
		CreatedAt: msg.CreatedAt,
		Readers:   msg.Readers,
		Reactions: msg.Reactions,
		Deleted:   msg.Deleted,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	var row messageRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return chat.Message{}, mapErr(err)
	}
	return messageFromRow(row), nil
}

func (s *Store) FindMessages(ctx context.Context, roomID string, before *time.Time, limit int) ([]chat.Message, error) {
	q := s.db.WithContext(ctx).
		Where("room_id = ? AND deleted = ?", roomID, false).
		Order("created_at DESC").
		Limit(limit)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, messageFromRow(row))
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range messageIDs {
			var row messageRow
			if err := tx.First(&row, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if readBy(row.Readers, userID) {
				continue
			}
			row.Readers = append(row.Readers, chat.Reader{UserID: userID, ReadAt: at})
			if err := tx.Model(&messageRow{}).Where("id = ?", id).
				Update("readers", row.Readers).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) (map[string][]string, error) {
	var out map[string][]string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row messageRow
		if err := tx.First(&row, "id = ?", messageID).Error; err != nil {
			return mapErr(err)
		}

		reactions := row.Reactions
		if reactions == nil {
			reactions = make(map[string][]string)
		}
		users := reactions[emoji]
		idx := -1
		for i, u := range users {
			if u == userID {
				idx = i
				break
			}
		}
		switch {
		case add && idx < 0:
			reactions[emoji] = append(users, userID)
		case !add && idx >= 0:
			users = append(users[:idx], users[idx+1:]...)
			if len(users) == 0 {
				delete(reactions, emoji)
			} else {
				reactions[emoji] = users
			}
		}

		if err := tx.Model(&messageRow{}).Where("id = ?", messageID).
			Update("reactions", reactions).Error; err != nil {
			return err
		}
		out = reactions
		return nil
	})
	return out, err
}

func (s *Store) GetFile(ctx context.Context, id string) (chat.File, error) {
	var row fileRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return chat.File{}, mapErr(err)
	}
	return chat.File{ID: row.ID, Filename: row.Filename, OriginalName: row.OriginalName, MimeType: row.MimeType, Size: row.Size}, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", sessionID).Error; err != nil {
		return chat.Session{}, mapErr(err)
	}
	return chat.Session{ID: row.ID, UserID: row.UserID, CreatedAt: row.CreatedAt, LastActivity: row.LastActivity}, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ?", sessionID).
		Update("last_activity", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func roomFromRow(row roomRow) chat.Room {
	return chat.Room{
		ID:           row.ID,
		Name:         row.Name,
		PasswordHash: row.PasswordHash,
		CreatorID:    row.CreatorID,
		Participants: row.Participants,
		CreatedAt:    row.CreatedAt,
	}
}

func messageFromRow(row messageRow) chat.Message {
	return chat.Message{
		ID:        row.ID,
		RoomID:    row.RoomID,
		SenderID:  row.SenderID,
		Content:   row.Content,
		Kind:      chat.Kind(row.Kind),
		FileID:    row.FileID,
		AIModel:   row.AIModel,
		CreatedAt: row.CreatedAt,
		Readers:   row.Readers,
		Reactions: row.Reactions,
		Deleted:   row.Deleted,
	}
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func readBy(readers []chat.Reader, userID string) bool {
	for _, r := range readers {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
