// Package api has type definitions for the Telegram Bot API.
package api

// Response is the envelope every Bot API method replies with.
type Response struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Attachment is the slice of a document or video the adapter needs.
// Both kinds decode into it.
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// Message is a chat message with an optional file attachment.
type Message struct {
	MessageID int64       `json:"message_id"`
	Date      int64       `json:"date"`
	Text      string      `json:"text"`
	Chat      Chat        `json:"chat"`
	Document  *Attachment `json:"document"`
	Video     *Attachment `json:"video"`
}

// Attachment returns the message's file, documents taking precedence,
// or nil when it carries none.
func (m *Message) Attachment() *Attachment {
	if m.Document != nil {
		return m.Document
	}
	return m.Video
}

// Update is one entry of a getUpdates reply. Uploads arrive as a direct
// message or as a channel post depending on the chat kind.
type Update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *Message `json:"message"`
	ChannelPost *Message `json:"channel_post"`
}

// Msg returns whichever message field the update carries.
func (u *Update) Msg() *Message {
	if u.Message != nil {
		return u.Message
	}
	return u.ChannelPost
}

// UpdatesResponse is the reply to getUpdates.
type UpdatesResponse struct {
	Response
	Result []Update `json:"result"`
}

// File is the payload of getFile. FilePath keys the static download
// endpoint.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

// FileResponse is the reply to getFile.
type FileResponse struct {
	Response
	Result File `json:"result"`
}
