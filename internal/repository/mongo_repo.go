package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
)

const defaultOpTimeout = 3 * time.Second

type MongoRepository struct {
	msgColl  *mongo.Collection
	convColl *mongo.Collection
	timeout  time.Duration
}

func NewMongoRepository(msgColl, convColl *mongo.Collection, timeout time.Duration) *MongoRepository {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &MongoRepository{msgColl: msgColl, convColl: convColl, timeout: timeout}
}

// EnsureIndexes creates the indexes queries rely on. The unique pair_key index
// is what keeps one conversation per participant pair.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 4*r.timeout)
	defer cancel()

	_, err := r.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "receiver", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = r.convColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	return err
}

func (r *MongoRepository) InsertMessage(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.msgColl.InsertOne(ctx, m)
	return err
}

func (r *MongoRepository) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var m domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) GetMessagesByIDs(ctx context.Context, ids []string) (map[string]*domain.Message, error) {
	out := make(map[string]*domain.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cur, err := r.msgColl.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out[m.ID] = &m
	}
	return out, cur.Err()
}

func (r *MongoRepository) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.msgColl.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (r *MongoRepository) AdvanceStatus(ctx context.Context, id string, status domain.Status, at time.Time) (*domain.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	lower := status.LowerThan()
	if len(lower) > 0 {
		res := r.msgColl.FindOneAndUpdate(
			ctx,
			bson.M{"_id": id, "status": bson.M{"$in": lower}},
			bson.M{"$set": bson.M{"status": status, "updated_at": at}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)
		var m domain.Message
		err := res.Decode(&m)
		if err == nil {
			return &m, true, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, err
		}
	}

	// already at or past status, or missing
	var cur domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": id}).Decode(&cur); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	return &cur, false, nil
}

func (r *MongoRepository) MarkDelivered(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := r.msgColl.UpdateMany(
		ctx,
		bson.M{"conversation_id": conversationID, "receiver": receiverID, "status": domain.StatusSent},
		bson.M{"$set": bson.M{"status": domain.StatusDelivered, "updated_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) FindOrCreateConversation(ctx context.Context, userA, userB string, at time.Time) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := domain.PairKey(userA, userB)
	doc := bson.M{
		"_id":          uuid.NewString(),
		"participants": domain.SortedPair(userA, userB),
		"pair_key":     key,
		"created_at":   at,
		"updated_at":   at,
	}
	res := r.convColl.FindOneAndUpdate(
		ctx,
		bson.M{"pair_key": key},
		bson.M{"$setOnInsert": doc},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var c domain.Conversation
	err := res.Decode(&c)
	if err == nil {
		return &c, nil
	}
	// two concurrent upserts on the same pair: the loser gets E11000 and the
	// winner's document is already there
	if !mongo.IsDuplicateKeyError(err) {
		return nil, err
	}
	if err := r.convColl.FindOne(ctx, bson.M{"pair_key": key}).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MongoRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var c domain.Conversation
	if err := r.convColl.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *MongoRepository) ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.convColl.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.Conversation{}
	for cur.Next(ctx) {
		var c domain.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *MongoRepository) SetLastMessage(ctx context.Context, m *domain.Message, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msgAt, id := domain.OrderKey(m)
	filter := bson.M{
		"_id": m.ConversationID,
		"$or": bson.A{
			bson.M{"last_message_at": bson.M{"$exists": false}},
			bson.M{"last_message_at": bson.M{"$lt": msgAt}},
			bson.M{"last_message_at": msgAt, "last_message": bson.M{"$lte": id}},
		},
	}
	res, err := r.convColl.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"last_message":    id,
		"last_message_at": msgAt,
		"updated_at":      at,
	}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// no match: either the conversation is gone or it already points at a newer message
	n, err := r.convColl.CountDocuments(ctx, bson.M{"_id": m.ConversationID})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
