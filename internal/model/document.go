package model

import "time"

// User is a document collaborator as reported by the remote API.
type User struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// DocumentMetadata is the remote document's state at fetch time.
type DocumentMetadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastModified time.Time `json:"last_modified"`
	Owner        string    `json:"owner,omitempty"`
}

type Reply struct {
	ID          string    `json:"id"`
	Author      User      `json:"author"`
	Content     string    `json:"content"`
	CreatedTime time.Time `json:"created_time"`
}

type Comment struct {
	ID            string    `json:"id"`
	Author        User      `json:"author"`
	Content       string    `json:"content"`
	CreatedTime   time.Time `json:"created_time"`
	Resolved      bool      `json:"resolved"`
	Replies       []Reply   `json:"replies,omitempty"`
	Anchor        string    `json:"anchor,omitempty"`
	QuotedContent string    `json:"quoted_content,omitempty"`
}

// Revision is one entry of the document's edit history. Author is nil when
// the API does not attribute the revision.
type Revision struct {
	ID           string    `json:"id"`
	Author       *User     `json:"author,omitempty"`
	ModifiedTime time.Time `json:"modified_time"`
	Size         int64     `json:"size,omitempty"`
}

const UnknownDocumentTitle = "Unknown Document"
