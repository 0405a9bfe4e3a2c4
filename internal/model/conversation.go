package model

import (
	"time"

	"github.com/google/uuid"
)

// FileKind partitions attachments by how the context builder consumes them:
// text files are dumped into the prompt, images are passed to vision models
// out of band.
type FileKind string

const (
	FileText  FileKind = "text"
	FileImage FileKind = "image"
)

// File is an attachment or a model-generated artifact.
type File struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Kind     FileKind  `json:"kind"`
	MimeType string    `json:"mime_type"`
	// Text holds the extracted text content for text files.
	Text string `json:"text,omitempty"`
	// Data holds raw bytes for image files.
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// PartitionFiles splits files into text and image attachments, preserving
// order within each partition.
func PartitionFiles(files []File) (text, images []File) {
	for _, f := range files {
		if f.Kind == FileImage {
			images = append(images, f)
		} else {
			text = append(text, f)
		}
	}
	return text, images
}

// Message is one completed turn of a prior conversation: the user's question,
// the assistant's answer, and any files attached or generated along the way.
type Message struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	AttachedFiles  []File    `json:"attached_files"`
	GeneratedFiles []File    `json:"generated_files"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session identifies a conversation thread within a space.
type Session struct {
	ID        uuid.UUID `json:"id"`
	SpaceID   uuid.UUID `json:"space_id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
