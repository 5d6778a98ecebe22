package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/pothole-detector/apiserver/internal/store"
	"github.com/pothole-detector/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type userDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Name           string             `bson:"name"`
	Email          string             `bson:"email"`
	PasswordHash   string             `bson:"passwordHash"`
	IsGuest        bool               `bson:"isGuest"`
	ProfilePicture string             `bson:"profilePicture,omitempty"`
	Phone          string             `bson:"phone,omitempty"`
	Rating         float64            `bson:"rating"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

func newUserDoc(user types.User) userDoc {
	doc := userDoc{
		Name:           user.Name,
		Email:          user.Email,
		PasswordHash:   user.PasswordHash,
		IsGuest:        user.IsGuest,
		ProfilePicture: user.ProfilePicture,
		Phone:          user.Phone,
		Rating:         user.Rating,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	}
	if oid, ok := parseObjectID(user.ID); ok {
		doc.ID = oid
	}
	return doc
}

func (d userDoc) toUser() types.User {
	return types.User{
		ID:             d.ID.Hex(),
		Name:           d.Name,
		Email:          d.Email,
		PasswordHash:   d.PasswordHash,
		IsGuest:        d.IsGuest,
		ProfilePicture: d.ProfilePicture,
		Phone:          d.Phone,
		Rating:         d.Rating,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// UserRepository handles persistence for users in the users collection.
type UserRepository struct {
	coll *mongo.Collection
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, store.ErrNotFound
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	doc := newUserDoc(user)
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, store.ErrDuplicate
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	oid, ok := parseObjectID(user.ID)
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	user.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"name":           user.Name,
		"email":          user.Email,
		"passwordHash":   user.PasswordHash,
		"isGuest":        user.IsGuest,
		"profilePicture": user.ProfilePicture,
		"phone":          user.Phone,
		"rating":         user.Rating,
		"updatedAt":      user.UpdatedAt,
	}}
	result, err := r.coll.UpdateByID(ctx, oid, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, store.ErrDuplicate
		}
		return types.User{}, err
	}
	if result.MatchedCount == 0 {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}
