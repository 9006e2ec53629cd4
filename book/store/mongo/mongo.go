// Package mongo implements book.ContentProvider on MongoDB. Book metadata
// and chapter text live in separate collections so chapter documents stay
// under the document size limit for long books.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/bookrag/book"
	"github.com/sweetpotato0/bookrag/errors"
)

// Store implements book.ContentProvider using MongoDB
type Store struct {
	client   *mongo.Client
	books    *mongo.Collection
	chapters *mongo.Collection
}

// Config holds MongoDB connection configuration
type Config struct {
	URI      string
	Database string
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:      "mongodb://localhost:27017",
		Database: "bookrag",
	}
}

type chapterDoc struct {
	BookID  string       `bson:"book_id"`
	Chapter book.Chapter `bson:"chapter"`
}

// New creates a MongoDB-backed content provider
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	store := &Store{
		client:   client,
		books:    db.Collection("books"),
		chapters: db.Collection("chapters"),
	}

	if err := store.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "book_id", Value: 1}, {Key: "chapter.id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := s.chapters.Indexes().CreateOne(ctx, indexModel)
	return err
}

// SaveBook stores a book, splitting chapter text out of the book document
func (s *Store) SaveBook(ctx context.Context, b *book.Book) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("book must have an ID: %w", errors.ErrInvalidInput)
	}

	meta := *b
	meta.Chapters = make([]book.Chapter, len(b.Chapters))
	for i, ch := range b.Chapters {
		chapterOnly := ch
		chapterOnly.Paragraphs = nil
		meta.Chapters[i] = chapterOnly

		filter := bson.M{"book_id": b.ID, "chapter.id": ch.ID}
		update := bson.M{"$set": chapterDoc{BookID: b.ID, Chapter: ch}}
		if _, err := s.chapters.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("failed to save chapter %s: %w", ch.ID, err)
		}
	}

	filter := bson.M{"_id": b.ID}
	update := bson.M{"$set": meta}
	if _, err := s.books.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

// GetBook returns book metadata and its chapter list, without paragraphs
func (s *Store) GetBook(ctx context.Context, bookID string) (*book.Book, error) {
	var b book.Book
	err := s.books.FindOne(ctx, bson.M{"_id": bookID}).Decode(&b)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("book %s: %w", bookID, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &b, nil
}

// GetChapter returns one chapter with its paragraphs
func (s *Store) GetChapter(ctx context.Context, bookID, chapterID string) (*book.Chapter, error) {
	var doc chapterDoc
	err := s.chapters.FindOne(ctx, bson.M{"book_id": bookID, "chapter.id": chapterID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("chapter %s/%s: %w", bookID, chapterID, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &doc.Chapter, nil
}

// Surrounding returns the paragraphs around paragraphIndex within a chapter
func (s *Store) Surrounding(ctx context.Context, bookID, chapterID string, paragraphIndex, window int) (*book.Surrounding, error) {
	chapter, err := s.GetChapter(ctx, bookID, chapterID)
	if err != nil {
		return nil, err
	}
	return SurroundingFromChapter(chapter, paragraphIndex, window)
}

// SurroundingFromChapter slices the window around paragraphIndex out of an
// already loaded chapter.
func SurroundingFromChapter(chapter *book.Chapter, paragraphIndex, window int) (*book.Surrounding, error) {
	if paragraphIndex < 0 || paragraphIndex >= len(chapter.Paragraphs) {
		return nil, fmt.Errorf("paragraph index %d out of range: %w", paragraphIndex, errors.ErrInvalidInput)
	}
	if window < 0 {
		window = 0
	}

	out := &book.Surrounding{
		ChapterTitle: chapter.Title,
		SectionTitle: chapter.Paragraphs[paragraphIndex].SectionTitle,
	}
	for i := paragraphIndex - window; i < paragraphIndex; i++ {
		if i >= 0 {
			out.Previous = append(out.Previous, chapter.Paragraphs[i].Text)
		}
	}
	for i := paragraphIndex + 1; i <= paragraphIndex+window && i < len(chapter.Paragraphs); i++ {
		out.Following = append(out.Following, chapter.Paragraphs[i].Text)
	}
	return out, nil
}

// Close disconnects the underlying MongoDB client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
