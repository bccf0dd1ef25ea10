package conversation

import "time"

// Conversation represents a chat conversation
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OwnerID   string    `json:"ownerId" gorm:"type:varchar(64);index"`
	Title     string    `json:"title" gorm:"type:varchar(255)"`
	Provider  string    `json:"provider,omitempty" gorm:"type:varchar(32)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a chat message
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ConversationID string    `json:"conversationId" gorm:"type:varchar(64);index"`
	Role           Role      `json:"role" gorm:"type:varchar(16)"`
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// File represents a document attached to a conversation
type File struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ConversationID string    `json:"conversationId" gorm:"type:varchar(64);index"`
	Name           string    `json:"name" gorm:"type:varchar(255)"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"contentType" gorm:"type:varchar(128)"`
	CreatedAt      time.Time `json:"createdAt"`
}
