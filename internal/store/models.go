package store

import "time"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Attachment is an encoded file payload. Data is base64 without a data URL prefix.
type Attachment struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
	Name     string `json:"name,omitempty"`
}

type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

type Message struct {
	ID               string            `json:"id"`
	Role             string            `json:"role"` // "user" or "model"
	Content          string            `json:"content"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	GeneratedImages  []Attachment      `json:"generatedImages,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	IsStreaming      bool              `json:"isStreaming,omitempty"`
	GroundingSources []GroundingSource `json:"groundingSources,omitempty"`
	Error            bool              `json:"error,omitempty"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	ModelID   string    `json:"modelId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type AIConfig struct {
	ModelID   string `json:"modelId"`
	UseSearch bool   `json:"useSearch"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}
