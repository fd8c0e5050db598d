package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
)

const (
	accountsCollection = "accounts"
	countersCollection = "counters"
	accountsSequence   = "accounts"
)

// MongoAccountRepository stores accounts in MongoDB. Documents are keyed by
// an integer id drawn from a counters collection.
type MongoAccountRepository struct {
	coll     *mongo.Collection
	counters *mongo.Collection
}

func NewAccountRepository(db *mongo.Database) *MongoAccountRepository {
	return &MongoAccountRepository{
		coll:     db.Collection(accountsCollection),
		counters: db.Collection(countersCollection),
	}
}

// EnsureIndexes creates the unique email index. It is safe to call on every start.
func (r *MongoAccountRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

type mongoAccount struct {
	ID               int64      `bson:"_id"`
	Name             string     `bson:"name"`
	LastName         string     `bson:"last_name"`
	Email            string     `bson:"email"`
	SecretHash       string     `bson:"secret_hash"`
	Role             string     `bson:"role"`
	Status           string     `bson:"status"`
	RefreshTokenHash string     `bson:"refresh_token_hash,omitempty"`
	BirthDate        *time.Time `bson:"birth_date,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

func (r *MongoAccountRepository) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	id, err := r.nextID(ctx)
	if err != nil {
		return nil, err
	}

	doc := toDocument(account)
	doc.ID = id

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: insert account: %w", domain.ErrRepository, err)
	}
	return doc.toDomain(), nil
}

func (r *MongoAccountRepository) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id}, domain.ErrAccountNotFound)
}

func (r *MongoAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{"email": email}, nil)
}

// Update applies changes through an aggregation pipeline so updated_at is
// computed server-side as max(now, previous + 1ms).
func (r *MongoAccountRepository) Update(ctx context.Context, id int64, changes ports.AccountUpdate) (*domain.Account, error) {
	set := bson.M{
		"updated_at": bson.M{"$max": bson.A{"$$NOW", bson.M{"$add": bson.A{"$updated_at", 1}}}},
	}
	literal := func(field string, v any) { set[field] = bson.M{"$literal": v} }

	if changes.Name != nil {
		literal("name", *changes.Name)
	}
	if changes.LastName != nil {
		literal("last_name", *changes.LastName)
	}
	if changes.Email != nil {
		literal("email", *changes.Email)
	}
	if changes.SecretHash != nil {
		literal("secret_hash", *changes.SecretHash)
	}
	if changes.Status != nil {
		literal("status", string(*changes.Status))
	}
	if changes.RefreshTokenHash != nil {
		literal("refresh_token_hash", *changes.RefreshTokenHash)
	}
	if changes.BirthDate != nil {
		literal("birth_date", changes.BirthDate.UTC())
	}

	filter := bson.M{"_id": id}
	if changes.ExpectedRefreshTokenHash != nil {
		filter["refresh_token_hash"] = *changes.ExpectedRefreshTokenHash
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc mongoAccount
	err := r.coll.FindOneAndUpdate(ctx, filter, mongo.Pipeline{{{Key: "$set", Value: set}}}, opts).Decode(&doc)
	switch {
	case err == nil:
		return doc.toDomain(), nil
	case errors.Is(err, mongo.ErrNoDocuments) && changes.ExpectedRefreshTokenHash != nil:
		return nil, domain.ErrSessionRotated
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, domain.ErrAccountNotFound
	case mongo.IsDuplicateKeyError(err):
		return nil, domain.ErrEmailTaken
	default:
		return nil, fmt.Errorf("%w: update account %d: %w", domain.ErrRepository, id, err)
	}
}

func (r *MongoAccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %w", domain.ErrRepository, err)
	}
	defer cur.Close(ctx)

	var docs []mongoAccount
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode accounts: %w", domain.ErrRepository, err)
	}

	out := make([]*domain.Account, len(docs))
	for i := range docs {
		out[i] = docs[i].toDomain()
	}
	return out, nil
}

// findOne returns miss when no document matches filter.
func (r *MongoAccountRepository) findOne(ctx context.Context, filter bson.M, miss error) (*domain.Account, error) {
	var doc mongoAccount
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, miss
		}
		return nil, fmt.Errorf("%w: find account: %w", domain.ErrRepository, err)
	}
	return doc.toDomain(), nil
}

func (r *MongoAccountRepository) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": accountsSequence},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("%w: next account id: %w", domain.ErrRepository, err)
	}
	return counter.Seq, nil
}

func toDocument(a *domain.Account) mongoAccount {
	doc := mongoAccount{
		ID:               a.ID,
		Name:             a.Name,
		LastName:         a.LastName,
		Email:            a.Email,
		SecretHash:       a.SecretHash,
		Role:             a.Role,
		Status:           string(a.Status),
		RefreshTokenHash: a.RefreshTokenHash,
		CreatedAt:        a.CreatedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:        a.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
	if a.BirthDate != nil {
		bd := a.BirthDate.UTC()
		doc.BirthDate = &bd
	}
	return doc
}

func (d *mongoAccount) toDomain() *domain.Account {
	a := &domain.Account{
		ID:               d.ID,
		Name:             d.Name,
		LastName:         d.LastName,
		Email:            d.Email,
		SecretHash:       d.SecretHash,
		Role:             d.Role,
		Status:           domain.AccountStatus(d.Status),
		RefreshTokenHash: d.RefreshTokenHash,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if d.BirthDate != nil {
		bd := d.BirthDate.UTC()
		a.BirthDate = &bd
	}
	return a
}
