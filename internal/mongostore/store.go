// Package mongostore persists clip records and user credentials in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/clip"
)

const (
	clipsCollection = "clips"
	usersCollection = "users"
)

// Compile-time checks that Store implements both ports.
var (
	_ clip.Store     = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

// Store implements clip.Store and auth.UserStore on one database.
type Store struct {
	clips *mongo.Collection
	users *mongo.Collection
}

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return client, nil
}

// New creates a Store on database db.
func New(db *mongo.Database) *Store {
	return &Store{
		clips: db.Collection(clipsCollection),
		users: db.Collection(usersCollection),
	}
}

// EnsureIndexes creates the unique clip name index and the listing indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.clips.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clipName", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "clipCreatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "creatorId", Value: 1}, {Key: "clipCreatedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create indexes: %w", err)
	}
	return nil
}

// Get returns the record for clipName.
func (s *Store) Get(ctx context.Context, clipName string) (*clip.Clip, error) {
	var c clip.Clip
	err := s.clips.FindOne(ctx, bson.M{"clipName": clipName}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, clip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: get %s: %w", clipName, err)
	}
	return &c, nil
}

// Create inserts c with version 1. The unique index rejects duplicates.
func (s *Store) Create(ctx context.Context, c *clip.Clip) error {
	if c.ClipName == "" {
		return clip.ErrNameRequired
	}
	doc := c.Clone()
	doc.Version = 1
	if _, err := s.clips.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return clip.ErrAlreadyExists
		}
		return fmt.Errorf("mongostore: create %s: %w", c.ClipName, err)
	}
	c.Version = doc.Version
	return nil
}

// UpdateIfExists applies patch atomically and returns the updated record.
func (s *Store) UpdateIfExists(ctx context.Context, clipName string, patch clip.Patch) (*clip.Clip, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var c clip.Clip
	err := s.clips.FindOneAndUpdate(ctx, bson.M{"clipName": clipName}, patchUpdate(patch), opts).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, clip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: update %s: %w", clipName, err)
	}
	return &c, nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, clipName string) (int64, error) {
	res, err := s.clips.DeleteOne(ctx, bson.M{"clipName": clipName})
	if err != nil {
		return 0, fmt.Errorf("mongostore: delete %s: %w", clipName, err)
	}
	return res.DeletedCount, nil
}

// Recent lists records newest first.
func (s *Store) Recent(ctx context.Context, offset int) ([]*clip.Clip, error) {
	return s.page(ctx, bson.M{}, offset)
}

// ByCreator lists one creator's records newest first.
func (s *Store) ByCreator(ctx context.Context, creatorID int64, offset int) ([]*clip.Clip, error) {
	return s.page(ctx, bson.M{"creatorId": creatorID}, offset)
}

func (s *Store) page(ctx context.Context, filter bson.M, offset int) ([]*clip.Clip, error) {
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "clipCreatedAt", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(clip.PageSize)
	cur, err := s.clips.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list clips: %w", err)
	}
	result := make([]*clip.Clip, 0, clip.PageSize)
	if err := cur.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("mongostore: decode clips: %w", err)
	}
	return result, nil
}

// GetUser returns the user with id.
func (s *Store) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	var u auth.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: get user %d: %w", id, err)
	}
	return &u, nil
}

// UpdateCredential stores cred only if it is newer than the stored one.
func (s *Store) UpdateCredential(ctx context.Context, id int64, cred auth.Credential) (*auth.User, error) {
	filter := bson.M{"_id": id, "credential.version": bson.M{"$lt": cred.Version}}
	update := bson.M{"$set": bson.M{"credential": cred}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var u auth.User
	err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongostore: update credential %d: %w", id, err)
	}
	if _, gerr := s.GetUser(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, auth.ErrStaleCredential
}

// PutUser inserts or replaces a user document.
func (s *Store) PutUser(ctx context.Context, u auth.User) error {
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: put user %d: %w", u.ID, err)
	}
	return nil
}

// patchUpdate translates a patch into a $set/$inc update document.
func patchUpdate(p clip.Patch) bson.M {
	set := bson.M{}
	if p.ContentID != nil {
		set["contentId"] = *p.ContentID
	}
	if p.ContentName != nil {
		set["contentName"] = *p.ContentName
	}
	if p.ClipDuration != nil {
		set["clipDuration"] = *p.ClipDuration
	}
	if p.ClipLastEdited != nil {
		set["clipLastEdited"] = *p.ClipLastEdited
	}
	if p.State != nil {
		set["state"] = *p.State
	}
	update := bson.M{"$inc": bson.M{"version": 1}}
	if len(set) > 0 {
		update["$set"] = set
	}
	return update
}
