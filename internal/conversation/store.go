package conversation

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// store implements Database over a gorm.DB; the driver-specific
// constructors only differ in how they open the connection.
type store struct {
	db *gorm.DB
}

func newStore(db *gorm.DB) (Database, error) {
	if err := db.AutoMigrate(&Conversation{}, &Message{}, &File{}); err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

// Close closes the database connection
func (s *store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *store) CreateConversation(ctx context.Context, conv *Conversation) error {
	return s.db.WithContext(ctx).Create(conv).Error
}

func (s *store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (s *store) ListConversations(ctx context.Context, ownerID string) ([]*Conversation, error) {
	var convs []*Conversation
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

func (s *store) UpdateTitle(ctx context.Context, id, title string) error {
	return s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
}

func (s *store) TouchConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", id).
		Update("updated_at", s.db.NowFunc()).Error
}

func (s *store) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Message{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&File{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Conversation{}, "id = ?", id).Error
	})
}

func (s *store) SaveMessage(ctx context.Context, msg *Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (s *store) ListMessagesPage(ctx context.Context, conversationID string, page, pageSize int) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&messages).Error
	return messages, err
}

func (s *store) SaveFile(ctx context.Context, file *File) error {
	return s.db.WithContext(ctx).Create(file).Error
}

func (s *store) ListFiles(ctx context.Context, conversationID string) ([]*File, error) {
	var files []*File
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&files).Error
	return files, err
}

func (s *store) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&File{}, "id = ?", id).Error
}
