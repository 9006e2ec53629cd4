// Package ingest parses HTML book exports into the book model. Heading
// levels drive the structure: h1/h2 start a chapter, h3 names a section,
// and p elements become paragraphs in reading order.
package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sweetpotato0/bookrag/book"
	"github.com/sweetpotato0/bookrag/errors"
)

// ParseHTML reads one HTML document and returns the book it describes.
// Text before the first chapter heading goes into an untitled front-matter
// chapter so nothing is dropped.
func ParseHTML(r io.Reader, bookID, title, author string) (*book.Book, error) {
	if bookID == "" {
		return nil, fmt.Errorf("book ID cannot be empty: %w", errors.ErrInvalidInput)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	b := &book.Book{ID: bookID, Title: title, Author: author}

	var current *book.Chapter
	var section string

	flush := func() {
		if current != nil && len(current.Paragraphs) > 0 {
			b.Chapters = append(b.Chapters, *current)
		}
		current = nil
		section = ""
	}
	startChapter := func(chapterTitle string) {
		flush()
		current = &book.Chapter{
			ID:    fmt.Sprintf("%s-ch%d", bookID, len(b.Chapters)+1),
			Title: chapterTitle,
			Index: len(b.Chapters),
		}
	}

	doc.Find("body").Find("h1, h2, h3, p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1", "h2":
			startChapter(text)
		case "h3":
			section = text
		case "p":
			if current == nil {
				startChapter("")
			}
			current.Paragraphs = append(current.Paragraphs, book.Paragraph{
				Index:        len(current.Paragraphs),
				Text:         text,
				SectionTitle: section,
			})
		}
	})
	flush()

	if len(b.Chapters) == 0 {
		return nil, fmt.Errorf("no readable content in document: %w", errors.ErrInvalidInput)
	}

	// Re-number after empty chapters were dropped
	for i := range b.Chapters {
		b.Chapters[i].Index = i
	}
	if b.Title == "" {
		b.Title = b.Chapters[0].Title
	}
	return b, nil
}
