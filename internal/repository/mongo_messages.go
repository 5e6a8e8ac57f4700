package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/conversation"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

type MongoMessageStore struct {
	col *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database, collection string) *MongoMessageStore {
	return &MongoMessageStore{col: db.Collection(collection)}
}

// EnsureIndexes creates the history and unread indexes.
func (r *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "is_read", Value: 1}}},
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return storeErr(err, "create message indexes")
}

func (r *MongoMessageStore) Append(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	m, err := prepareMessage(in)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	m.ID = newID()
	m.CreatedAt = nowUTC()
	m.UpdatedAt = m.CreatedAt
	if _, err := r.col.InsertOne(ctx, m); err != nil {
		return nil, storeErr(err, "insert message")
	}
	return m, nil
}

func (r *MongoMessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var m domain.Message
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, storeErr(err, "get message")
	}
	m.Normalize()
	return &m, nil
}

func (r *MongoMessageStore) ListByConversation(ctx context.Context, convID, requester string, page, pageSize int) (*domain.Page, error) {
	if !conversation.IsParticipant(convID, requester) {
		return nil, apperr.Authorization("not authorized to access this conversation")
	}
	page, pageSize = domain.ClampPage(page, pageSize)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{
		"conversation_id": convID,
		"deleted_by":      bson.M{"$ne": requester},
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "count messages")
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(err, "find messages")
	}
	defer cur.Close(ctx)

	msgs := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, storeErr(err, "decode message")
		}
		m.Normalize()
		msgs = append(msgs, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, storeErr(err, "iterate messages")
	}
	// newest-first from the cursor, served oldest-first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return &domain.Page{
		Messages: msgs,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    domain.PageCount(total, pageSize),
	}, nil
}

// MarkRead flips each message with a conditional update, so concurrent readers
// see exactly one transition per message.
func (r *MongoMessageStore) MarkRead(ctx context.Context, ids []string, reader string) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	changed := []*domain.Message{}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	for _, id := range ids {
		now := nowUTC()
		res := r.col.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "receiver": reader, "is_read": false},
			bson.M{"$set": bson.M{"is_read": true, "read_at": now, "updated_at": now}},
			opts,
		)
		var m domain.Message
		if err := res.Decode(&m); err != nil {
			if err == mongo.ErrNoDocuments {
				continue
			}
			return changed, storeErr(err, "mark message read")
		}
		m.Normalize()
		changed = append(changed, &m)
	}
	return changed, nil
}

func (r *MongoMessageStore) MarkConversationRead(ctx context.Context, convID, reader string) ([]*domain.Message, error) {
	if !conversation.IsParticipant(convID, reader) {
		return nil, apperr.Authorization("not authorized to access this conversation")
	}
	ids, err := r.unreadIDs(ctx, convID, reader)
	if err != nil {
		return nil, err
	}
	return r.MarkRead(ctx, ids, reader)
}

func (r *MongoMessageStore) unreadIDs(ctx context.Context, convID, reader string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	cur, err := r.col.Find(ctx,
		bson.M{"conversation_id": convID, "receiver": reader, "is_read": false},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, storeErr(err, "find unread")
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storeErr(err, "decode unread")
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// SoftDelete adds requester to deleted_by in a single pipeline update and
// derives is_deleted from the resulting set size.
func (r *MongoMessageStore) SoftDelete(ctx context.Context, id, requester string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	filter := bson.M{
		"_id": id,
		"$or": []bson.M{{"sender": requester}, {"receiver": requester}},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"deleted_by": bson.M{"$setUnion": bson.A{
				bson.M{"$ifNull": bson.A{"$deleted_by", bson.A{}}},
				bson.A{requester},
			}},
		}}},
		{{Key: "$set", Value: bson.M{
			"is_deleted": bson.M{"$gte": bson.A{bson.M{"$size": "$deleted_by"}, domain.MaxParticipants}},
			"updated_at": nowUTC(),
		}}},
	}
	var m domain.Message
	err := r.col.FindOneAndUpdate(ctx, filter, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err == mongo.ErrNoDocuments {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.Authorization("not authorized to delete this message")
	}
	if err != nil {
		return nil, storeErr(err, "soft delete message")
	}
	m.Normalize()
	return &m, nil
}

func (r *MongoMessageStore) Report(ctx context.Context, id, reporter, reason string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var m domain.Message
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"is_reported":   true,
			"reported_by":   reporter,
			"report_reason": reason,
			"updated_at":    nowUTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, storeErr(err, "report message")
	}
	m.Normalize()
	return &m, nil
}

func (r *MongoMessageStore) Conversations(ctx context.Context, userID string) ([]domain.ConversationDigest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"$or":        []bson.M{{"sender": userID}, {"receiver": userID}},
			"is_deleted": false,
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$conversation_id",
			"last_message": bson.M{"$first": "$$ROOT"},
			"unread_count": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiver", userID}},
					bson.M{"$eq": bson.A{"$is_read", false}},
				}},
				1, 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_message.created_at", Value: -1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeErr(err, "aggregate conversations")
	}
	digests := []domain.ConversationDigest{}
	if err := cur.All(ctx, &digests); err != nil {
		return nil, storeErr(err, "decode conversations")
	}
	for i := range digests {
		if digests[i].LastMessage != nil {
			digests[i].LastMessage.Normalize()
		}
	}
	return digests, nil
}

func (r *MongoMessageStore) UnreadTotal(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.col.CountDocuments(ctx, bson.M{"receiver": userID, "is_read": false, "is_deleted": false})
	if err != nil {
		return 0, storeErr(err, "count unread")
	}
	return n, nil
}
