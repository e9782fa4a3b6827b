package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
)

// FindUserByLogin returns the credential document for a login, or
// ErrNotFound. The FTP core treats this collection as read-only.
func (s *Store) FindUserByLogin(ctx context.Context, login string) (*metadata.UserDoc, error) {
	var user metadata.UserDoc
	err := s.users.FindOne(ctx, bson.M{"login": login}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, metaerrors.New(metaerrors.ErrNotFound, "", "no such username")
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", login, err)
	}
	return &user, nil
}

// UpsertUser creates or replaces a credential document. Only the
// management CLI calls this.
func (s *Store) UpsertUser(ctx context.Context, user *metadata.UserDoc) error {
	filter := bson.M{"login": user.Login}
	_, err := s.users.ReplaceOne(ctx, filter, user, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", user.Login, err)
	}
	return nil
}

// DeleteUser removes a credential document. A missing login returns
// ErrNotFound.
func (s *Store) DeleteUser(ctx context.Context, login string) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"login": login})
	if err != nil {
		return fmt.Errorf("delete user %q: %w", login, err)
	}
	if res.DeletedCount == 0 {
		return metaerrors.New(metaerrors.ErrNotFound, "", "no such username")
	}
	return nil
}

// ListUsers returns every credential document.
func (s *Store) ListUsers(ctx context.Context) ([]*metadata.UserDoc, error) {
	cursor, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*metadata.UserDoc
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
