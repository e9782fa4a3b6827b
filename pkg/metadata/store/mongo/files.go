package mongo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/vpath"
)

// partialPattern excludes in-flight client uploads from listings.
var partialPattern = primitive.Regex{Pattern: `\.partial$`}

// FindOne returns the node at (parent, name), or ErrNotFound.
func (s *Store) FindOne(ctx context.Context, parent, name string) (*metadata.Node, error) {
	var node metadata.Node
	err := s.files.FindOne(ctx, bson.M{"parent": parent, "name": name}).Decode(&node)
	if err == mongo.ErrNoDocuments {
		return nil, metaerrors.NotFound(vpath.Join(parent, name))
	}
	if err != nil {
		return nil, fmt.Errorf("find node %s: %w", vpath.Join(parent, name), err)
	}
	return &node, nil
}

// Insert stores a new node. IDs are generated client-side so that the same
// document shape works in the in-memory store.
func (s *Store) Insert(ctx context.Context, node *metadata.Node) error {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	_, err := s.files.InsertOne(ctx, node)
	if mongo.IsDuplicateKeyError(err) {
		return metaerrors.AlreadyExists(node.Path())
	}
	if err != nil {
		return fmt.Errorf("insert node %s: %w", node.Path(), err)
	}
	return nil
}

// Replace upserts the node stored at (parent, name) and backfills node.ID
// so callers can address the document by ID afterwards.
func (s *Store) Replace(ctx context.Context, node *metadata.Node) error {
	filter := bson.M{"parent": node.Parent, "name": node.Name}

	// The replacement must not carry _id: replacing an existing document
	// with a different immutable _id is rejected by the server.
	doc := node.Clone()
	doc.ID = ""

	res, err := s.files.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace node %s: %w", node.Path(), err)
	}

	if id, ok := res.UpsertedID.(primitive.ObjectID); ok {
		node.ID = id.Hex()
		return nil
	}
	if id, ok := res.UpsertedID.(string); ok {
		node.ID = id
		return nil
	}

	// Replaced an existing document: recover its _id.
	var existing struct {
		ID string `bson:"_id"`
	}
	if err := s.files.FindOne(ctx, filter).Decode(&existing); err == nil {
		node.ID = existing.ID
	}
	return nil
}

// Rename updates parent, name and mtime by document ID.
func (s *Store) Rename(ctx context.Context, id, newParent, newName string, mtime int64) error {
	update := bson.M{"$set": bson.M{"parent": newParent, "name": newName, "mtime": mtime}}
	if _, err := s.files.UpdateByID(ctx, idValue(id), update); err != nil {
		return fmt.Errorf("rename node %s: %w", id, err)
	}
	return nil
}

// CompleteUpload performs the staging-to-completed swap in a single update,
// which is what keeps the size/parts invariant atomic without transactions.
func (s *Store) CompleteUpload(ctx context.Context, id string, size, uploadedAt int64, parts []metadata.ChunkRef, fileUUID string) error {
	update := bson.M{
		"$set": bson.M{
			"size":          size,
			"uploaded_at":   uploadedAt,
			"parts":         parts,
			"obfuscated_id": fileUUID,
			"status":        metadata.StatusCompleted,
		},
		"$unset": bson.M{"local_path": 1},
	}
	if _, err := s.files.UpdateByID(ctx, idValue(id), update); err != nil {
		return fmt.Errorf("complete upload %s: %w", id, err)
	}
	return nil
}

// DeleteOne removes the node at (parent, name). Deleting a missing node is
// a no-op.
func (s *Store) DeleteOne(ctx context.Context, parent, name string) error {
	if _, err := s.files.DeleteOne(ctx, bson.M{"parent": parent, "name": name}); err != nil {
		return fmt.Errorf("delete node %s: %w", vpath.Join(parent, name), err)
	}
	return nil
}

// DeleteByParentPrefix cascades over every node whose parent starts with
// the given path.
func (s *Store) DeleteByParentPrefix(ctx context.Context, prefix string) error {
	filter := bson.M{"parent": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	if _, err := s.files.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete subtree %s: %w", prefix, err)
	}
	return nil
}

// List returns the children of parent. Names ending in ".partial" are
// filtered server-side.
func (s *Store) List(ctx context.Context, parent string) ([]*metadata.Node, error) {
	filter := bson.M{
		"parent": parent,
		"name":   bson.M{"$not": partialPattern},
	}
	cursor, err := s.files.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	defer cursor.Close(ctx)

	var nodes []*metadata.Node
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	return nodes, nil
}

// FindPending returns files a previous run left mid-upload: still marked
// staging, or with staging bytes attached and not completed.
func (s *Store) FindPending(ctx context.Context) ([]*metadata.Node, error) {
	filter := bson.M{"$or": []bson.M{
		{"status": metadata.StatusStaging},
		{
			"local_path": bson.M{"$exists": true, "$ne": ""},
			"status":     bson.M{"$ne": metadata.StatusCompleted},
		},
	}}
	cursor, err := s.files.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	defer cursor.Close(ctx)

	var nodes []*metadata.Node
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	return nodes, nil
}

// idValue widens string IDs that are really ObjectID hex back into
// ObjectIDs, for documents created outside this process.
func idValue(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
