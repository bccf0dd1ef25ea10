package cnst

import "fmt"

// Cache and registry key prefixes. Every key this process writes to redis
// lives under one of these namespaces so that pattern invalidation and
// debugging stay tractable.
const (
	PrefixConversation     = "conversation:"
	PrefixConversationList = "conversations:"
	PrefixMessageList      = "messages:"
	PrefixFileList         = "files:"
	PrefixRateLimit        = "ratelimit:"
	PrefixStream           = "stream:"
	PrefixUserStreams      = "user_streams:"
)

// ConversationKey returns the cache key for a single conversation.
func ConversationKey(id string) string {
	return PrefixConversation + id
}

// ConversationListKey returns the cache key for an owner's conversation list.
func ConversationListKey(ownerID string) string {
	return PrefixConversationList + ownerID
}

// MessageListKey returns the cache key for a conversation's message list.
// Paginated variants append ":<page>:<size>" to this base.
func MessageListKey(conversationID string) string {
	return PrefixMessageList + conversationID
}

// MessagePageKey returns the cache key for one page of a message list.
func MessagePageKey(conversationID string, page, pageSize int) string {
	return fmt.Sprintf("%s%s:%d:%d", PrefixMessageList, conversationID, page, pageSize)
}

// FileListKey returns the cache key for a conversation's file list.
func FileListKey(conversationID string) string {
	return PrefixFileList + conversationID
}

// RateLimitKey returns the counter key for a caller identity.
func RateLimitKey(identity string) string {
	return PrefixRateLimit + identity
}

// StreamKey returns the registry key for a streaming session.
func StreamKey(sessionID string) string {
	return PrefixStream + sessionID
}

// UserStreamsKey returns the per-owner stream index key.
func UserStreamsKey(ownerID string) string {
	return PrefixUserStreams + ownerID
}
