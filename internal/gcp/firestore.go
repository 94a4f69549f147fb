package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// QuestionsSubcollection holds one document per question under the job document.
const QuestionsSubcollection = "questions"

// FirestoreQuestionStore upserts question records under {collection}/{docID}/questions/{%04d}.
type FirestoreQuestionStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreQuestionStore(client *firestore.Client, collection string) *FirestoreQuestionStore {
	return &FirestoreQuestionStore{client: client, collection: collection}
}

// UpsertQuestions writes every record with a full Set, so a re-run overwrites earlier results.
func (s *FirestoreQuestionStore) UpsertQuestions(ctx context.Context, docID string, meta models.Metadata, records []models.QuestionRecord) error {
	if len(records) == 0 {
		return nil
	}
	questions := s.client.Collection(s.collection).Doc(docID).Collection(QuestionsSubcollection)
	writer := s.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(records))
	for _, rec := range records {
		job, err := writer.Set(questions.Doc(QuestionDocID(rec.QuestionNumber)), NewQuestionDocument(rec, meta))
		if err != nil {
			writer.End()
			return fmt.Errorf("failed to enqueue question %d: %w", rec.QuestionNumber, err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	var failed int
	var firstErr error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("Failed to write question.", "documentId", docID, "questionNumber", records[i].QuestionNumber, "error", err)
		}
	}
	if firstErr != nil {
		return fmt.Errorf("failed to write %d of %d questions: %w", failed, len(records), firstErr)
	}
	slog.Info("Questions upserted to Firestore.", "documentId", docID, "count", len(records))
	return nil
}

// QuestionDocID is the document ID of a question, zero-padded so IDs sort by number.
func QuestionDocID(questionNumber int) string {
	return fmt.Sprintf("%04d", questionNumber)
}

// TableRow wraps one row because Firestore cannot store nested arrays.
type TableRow struct {
	Cells []string `firestore:"cells"`
}

// QuestionDocument is the Firestore shape of a question record.
type QuestionDocument struct {
	Record    models.QuestionRecord `firestore:"record"`
	TableRows []TableRow            `firestore:"tableRows,omitempty"`
	Chapter   string                `firestore:"chapter,omitempty"`
	Material  string                `firestore:"material,omitempty"`
	Filename  string                `firestore:"filename,omitempty"`
	UpdatedAt time.Time             `firestore:"updatedAt"`
}

// NewQuestionDocument flattens the record's table rows into TableRows.
func NewQuestionDocument(rec models.QuestionRecord, meta models.Metadata) QuestionDocument {
	doc := QuestionDocument{
		Record:    rec,
		Chapter:   meta.Chapter,
		Material:  meta.Material,
		Filename:  meta.Filename,
		UpdatedAt: time.Now().UTC(),
	}
	if t := rec.Passage.Table; t != nil {
		for _, row := range t.Rows {
			doc.TableRows = append(doc.TableRows, TableRow{Cells: row})
		}
	}
	return doc
}

// Rows restores the table rows of a stored document.
func (d QuestionDocument) Rows() [][]string {
	rows := make([][]string, len(d.TableRows))
	for i, r := range d.TableRows {
		rows[i] = r.Cells
	}
	return rows
}
