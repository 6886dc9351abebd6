package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LnSPoll/model"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// firestoreDoc keeps the queryable fields at the top level and the full
// record as JSON.
type firestoreDoc struct {
	ParticipantID string    `firestore:"participant_id"`
	SubmittedAt   time.Time `firestore:"submitted_at"`
	Age           int       `firestore:"age"`
	MotherTongue  string    `firestore:"mother_tongue"`
	ClipCount     int       `firestore:"clip_count"`
	Payload       string    `firestore:"payload"`
}

// FirestoreStore writes one document per participant.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore uses the given credentials file, or application default
// credentials when credFile is empty.
func NewFirestoreStore(ctx context.Context, projectID, collection, credFile string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) Name() string { return "firestore" }

func (s *FirestoreStore) Close() error { return s.client.Close() }

func (s *FirestoreStore) Save(ctx context.Context, resp *model.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	doc := firestoreDoc{
		ParticipantID: resp.ParticipantID,
		SubmittedAt:   resp.SubmittedAt.UTC(),
		Age:           resp.Intake.Age,
		MotherTongue:  resp.Intake.MotherTongue,
		ClipCount:     len(resp.Clips),
		Payload:       string(payload),
	}
	if _, err := s.client.Collection(s.collection).Doc(resp.ParticipantID).Set(ctx, doc); err != nil {
		return fmt.Errorf("write firestore document %s: %w", resp.ParticipantID, err)
	}
	return nil
}

func (s *FirestoreStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	iter := s.client.Collection(s.collection).OrderBy("submitted_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*model.Response
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read firestore documents: %w", err)
		}
		var doc firestoreDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode firestore document %s: %w", snap.Ref.ID, err)
		}
		var r model.Response
		if err := json.Unmarshal([]byte(doc.Payload), &r); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *FirestoreStore) Count(ctx context.Context) (int, error) {
	snaps, err := s.client.Collection(s.collection).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("count firestore documents: %w", err)
	}
	return len(snaps), nil
}

// bulkResult is the part of *firestore.BulkWriterJob that DeleteAll reads.
type bulkResult interface {
	Results() (*firestore.WriteResult, error)
}

type queuedDelete struct {
	id  string
	job bulkResult
}

// firstFailedDelete waits on every job and returns the first failure.
func firstFailedDelete(jobs []queuedDelete) error {
	var first error
	for _, q := range jobs {
		if _, err := q.job.Results(); err != nil && first == nil {
			first = fmt.Errorf("delete firestore document %s: %w", q.id, err)
		}
	}
	return first
}

// DeleteAll removes every document with a bulk writer. It fails if any
// queued delete fails.
func (s *FirestoreStore) DeleteAll(ctx context.Context) error {
	refs := s.client.Collection(s.collection).DocumentRefs(ctx)
	bw := s.client.BulkWriter(ctx)

	var jobs []queuedDelete
	for {
		ref, err := refs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("list firestore documents: %w", err)
		}
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("queue delete of %s: %w", ref.ID, err)
		}
		jobs = append(jobs, queuedDelete{id: ref.ID, job: job})
	}
	bw.End()
	return firstFailedDelete(jobs)
}
