package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultUsersCollection         = "users"
	DefaultVerificationsCollection = "verifications"
)

// MongoUserRepository stores users keyed by email (_id) with a "rev" revision field.
type MongoUserRepository struct {
	users *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{users: db.Collection(DefaultUsersCollection)}
}

func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := r.users.FindOne(ctx, bson.M{"_id": email}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	u.Profile = u.Profile.withDefaults()
	return &u, nil
}

func (r *MongoUserRepository) Create(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	doc := *u
	doc.Revision = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	*u = doc
	return nil
}

func (r *MongoUserRepository) Update(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	res, err := r.users.UpdateOne(ctx,
		bson.M{"_id": u.Email, "rev": u.Revision},
		bson.M{
			"$set": bson.M{"password": u.PasswordHash, "profile": u.Profile, "updatedAt": now},
			"$inc": bson.M{"rev": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.users.CountDocuments(ctx, bson.M{"_id": u.Email})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	u.Revision++
	u.UpdatedAt = now
	return nil
}

// MongoVerificationRepository keys pending codes by "<purpose>:<email>" so issuing
// replaces the previous code atomically.
type MongoVerificationRepository struct {
	verifications *mongo.Collection
}

type verificationDoc struct {
	ID           string `bson:"_id"`
	Verification `bson:",inline"`
}

func NewMongoVerificationRepository(db *mongo.Database) *MongoVerificationRepository {
	return &MongoVerificationRepository{verifications: db.Collection(DefaultVerificationsCollection)}
}

func verificationKey(email string, purpose Purpose) string {
	return string(purpose) + ":" + email
}

// EnsureIndexes creates a TTL index so expired codes are eventually removed by the server.
// Expiry is still checked on Consume because the TTL monitor runs lazily.
func (r *MongoVerificationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.verifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (r *MongoVerificationRepository) Issue(ctx context.Context, v *Verification) error {
	key := verificationKey(v.Email, v.Purpose)
	_, err := r.verifications.ReplaceOne(ctx,
		bson.M{"_id": key},
		verificationDoc{ID: key, Verification: *v},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *MongoVerificationRepository) Consume(ctx context.Context, email string, purpose Purpose, codeHash string, now time.Time) (*Verification, error) {
	var doc verificationDoc
	err := r.verifications.FindOneAndDelete(ctx, bson.M{
		"_id":       verificationKey(email, purpose),
		"code":      codeHash,
		"expiresAt": bson.M{"$gt": now},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc.Verification, nil
}

func (r *MongoVerificationRepository) Withdraw(ctx context.Context, email string, purpose Purpose, codeHash string) error {
	_, err := r.verifications.DeleteOne(ctx, bson.M{"_id": verificationKey(email, purpose), "code": codeHash})
	return err
}

func (r *MongoVerificationRepository) Reinstate(ctx context.Context, v *Verification) error {
	key := verificationKey(v.Email, v.Purpose)
	_, err := r.verifications.InsertOne(ctx, verificationDoc{ID: key, Verification: *v})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}
