// Package cloudstore is the Cloud Firestore mirror backend.
//
// Collections map one-to-one onto top-level Firestore collections and the
// document id is the decimal local id. Set merges with firestore.MergeAll,
// and batch deletes run inside a transaction so they commit atomically.
//
// Credentials come from Config, or from Application Default Credentials when
// none are given. Setting FIRESTORE_EMULATOR_HOST points the client at the
// local emulator.
package cloudstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Config selects the Firebase project.
type Config struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON []byte
}

// Store is a DocumentStore on Firestore.
type Store struct {
	app    *firebase.App
	client *firestore.Client
}

var _ mirror.DocumentStore = (*Store)(nil)

// Open initializes the Firebase app and its Firestore client.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{app: app, client: client}, nil
}

// NewApp initializes a Firebase app from cfg.
func NewApp(ctx context.Context, cfg Config) (*firebase.App, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return app, nil
}

// App returns the Firebase app, for sharing with the auth service.
func (s *Store) App() *firebase.App {
	return s.app
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, classify(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, classify(err))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection, field string, value any) ([]schema.Document, error) {
	iter := s.client.Collection(collection).Where(field, "==", value).Documents(ctx)
	docs, err := collect(iter, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
	}
	return docs, nil
}

// DeleteBatch deletes refs in one transaction. Firestore caps a transaction
// at 500 writes, which matches the client's default MaxBatch.
func (s *Store) DeleteBatch(ctx context.Context, refs []mirror.Ref) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, ref := range refs {
			if err := tx.Delete(s.client.Collection(ref.Collection).Doc(ref.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit delete batch: %w", classify(err))
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]schema.Document, error) {
	docs, err := collect(s.client.Collection(collection).Documents(ctx), collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return docs, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func collect(iter *firestore.DocumentIterator, collection string) ([]schema.Document, error) {
	defer iter.Stop()

	docs := []schema.Document{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		docs = append(docs, schema.Document{
			Collection: collection,
			ID:         snap.Ref.ID,
			Fields:     snap.Data(),
		})
	}
	return docs, nil
}

// classify marks gRPC connectivity failures as mirror.ErrUnavailable.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return errors.Join(mirror.ErrUnavailable, err)
	}
	return err
}
