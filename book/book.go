// Package book holds the reading-domain model: books, chapters, paragraphs,
// and the provider interface the question pipeline uses to look up the text
// surrounding a reader's selection.
package book

import "context"

// Book is the top-level record for an ingested book
type Book struct {
	ID       string    `json:"id" bson:"_id"`
	Title    string    `json:"title" bson:"title"`
	Author   string    `json:"author,omitempty" bson:"author,omitempty"`
	Chapters []Chapter `json:"chapters,omitempty" bson:"chapters,omitempty"`
}

// Chapter is one chapter of a book with its paragraphs in reading order
type Chapter struct {
	ID         string      `json:"id" bson:"id"`
	Title      string      `json:"title" bson:"title"`
	Index      int         `json:"index" bson:"index"`
	Paragraphs []Paragraph `json:"paragraphs,omitempty" bson:"paragraphs,omitempty"`
}

// Paragraph is the smallest addressable unit of book text
type Paragraph struct {
	Index        int    `json:"index" bson:"index"`
	Text         string `json:"text" bson:"text"`
	SectionTitle string `json:"section_title,omitempty" bson:"section_title,omitempty"`
}

// Surrounding is the text around a selected paragraph, used to ground
// questions about a reader's selection
type Surrounding struct {
	Previous     []string
	Following    []string
	SectionTitle string
	ChapterTitle string
}

// ContentProvider serves book content lookups for the question pipeline
type ContentProvider interface {
	// GetBook returns book metadata and its chapter list, without paragraphs
	GetBook(ctx context.Context, bookID string) (*Book, error)

	// GetChapter returns one chapter with its paragraphs
	GetChapter(ctx context.Context, bookID, chapterID string) (*Chapter, error)

	// Surrounding returns up to window paragraphs on each side of the
	// paragraph at paragraphIndex, together with its section and chapter
	// titles
	Surrounding(ctx context.Context, bookID, chapterID string, paragraphIndex, window int) (*Surrounding, error)
}
