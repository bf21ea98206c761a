package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hilthontt/notifygate/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type tokenDocument struct {
	Token     string    `bson:"token"`
	OwnerID   string    `bson:"owner_id"`
	ExpiresAt time.Time `bson:"expires_at,omitempty"`
}

// MongoResolver looks tokens up in a collection of
// {token, owner_id, expires_at} documents. A missing expires_at never expires.
type MongoResolver struct {
	collection *mongo.Collection
	strict     bool
	now        func() time.Time
}

func NewMongoResolver(collection *mongo.Collection, strict bool) *MongoResolver {
	return &MongoResolver{
		collection: collection,
		strict:     strict,
		now:        time.Now,
	}
}

func (r *MongoResolver) ResolveOwner(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnknownToken
	}

	var doc tokenDocument
	err := r.collection.FindOne(ctx, bson.M{"token": token}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}

	if !doc.ExpiresAt.IsZero() && !doc.ExpiresAt.After(r.now()) {
		return "", fmt.Errorf("%w: token expired", ErrUnknownToken)
	}

	owner, err := domain.ParseOwner(doc.OwnerID, r.strict)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownToken, err)
	}
	return owner, nil
}
