package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dkeye/Meet/internal/domain"
)

const (
	collMessages     = "messages"
	collParticipants = "participants"
	collRooms        = "rooms"
)

// Mongo is the durable backend. It never blocks on reconnects: without a live
// client every call fails fast with ErrNotConnected.
type Mongo struct {
	conn *Connector
	now  func() time.Time
}

func NewMongo(conn *Connector) *Mongo {
	m := &Mongo{conn: conn, now: time.Now}
	conn.OnConnect = EnsureIndexes
	return m
}

// EnsureIndexes creates the unique and TTL indexes the backend relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		collMessages: {
			{
				Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("ix_room_ts"),
			},
			{
				Keys:    bson.D{{Key: "receivedAt", Value: 1}},
				Options: options.Index().SetName("ttl_received").SetExpireAfterSeconds(int32(MessageTTL / time.Second)),
			},
		},
		collParticipants: {
			{
				Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "userId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_room_user"),
			},
			{
				Keys:    bson.D{{Key: "socketId", Value: 1}},
				Options: options.Index().SetName("ix_socket"),
			},
		},
		collRooms: {
			{
				Keys:    bson.D{{Key: "roomId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_room"),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes on %s", coll)
		}
	}
	return nil
}

func (m *Mongo) Connected() bool { return m.conn.Connected() }

func (m *Mongo) Ping(ctx context.Context) error { return m.conn.Ping(ctx) }

func (m *Mongo) coll(name string) (*mongo.Collection, error) {
	db, ok := m.conn.TryGetDB()
	if !ok {
		return nil, ErrNotConnected
	}
	return db.Collection(name), nil
}

func (m *Mongo) SaveMessage(ctx context.Context, msg *domain.Message) error {
	c, err := m.coll(collMessages)
	if err != nil {
		return err
	}
	_, err = c.InsertOne(ctx, msg)
	return errors.Wrap(err, "insert message")
}

func (m *Mongo) GetMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Message, error) {
	c, err := m.coll(collMessages)
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "receivedAt", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))
	cur, err := c.Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	var out []*domain.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Mongo) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	c, err := m.coll(collParticipants)
	if err != nil {
		return err
	}
	now := m.now()
	joinTime := p.JoinTime
	if joinTime.IsZero() {
		joinTime = now
	}
	lastSeen := p.LastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}
	_, err = c.UpdateOne(ctx,
		bson.M{"roomId": p.RoomID, "userId": p.UserID},
		bson.M{
			"$set": bson.M{
				"name":     p.Name,
				"status":   p.Status,
				"socketId": p.ConnID,
				"lastSeen": lastSeen,
			},
			"$setOnInsert": bson.M{"joinTime": joinTime},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "upsert participant")
}

func (m *Mongo) UpdateParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID, patch domain.ParticipantPatch) error {
	c, err := m.coll(collParticipants)
	if err != nil {
		return err
	}
	set := bson.M{"lastSeen": m.now()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.ConnID != nil {
		set["socketId"] = *patch.ConnID
	}
	_, err = c.UpdateOne(ctx, bson.M{"roomId": roomID, "userId": userID}, bson.M{"$set": set})
	return errors.Wrap(err, "update participant")
}

func (m *Mongo) findParticipant(ctx context.Context, filter bson.M) (*domain.Participant, error) {
	c, err := m.coll(collParticipants)
	if err != nil {
		return nil, err
	}
	var p domain.Participant
	err = c.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find participant")
	}
	return &p, nil
}

func (m *Mongo) GetParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Participant, error) {
	return m.findParticipant(ctx, bson.M{"roomId": roomID, "userId": userID})
}

func (m *Mongo) FindParticipantByConnection(ctx context.Context, connID string) (*domain.Participant, error) {
	if connID == "" {
		return nil, nil
	}
	return m.findParticipant(ctx, bson.M{"socketId": connID})
}

func (m *Mongo) findParticipants(ctx context.Context, filter bson.M) ([]*domain.Participant, error) {
	c, err := m.coll(collParticipants)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "joinTime", Value: 1}, {Key: "userId", Value: 1}})
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find participants")
	}
	out := []*domain.Participant{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode participants")
	}
	return out, nil
}

func (m *Mongo) GetParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	return m.findParticipants(ctx, bson.M{"roomId": roomID})
}

func (m *Mongo) ListConnected(ctx context.Context) ([]*domain.Participant, error) {
	return m.findParticipants(ctx, bson.M{"socketId": bson.M{"$nin": bson.A{"", nil}}})
}

func (m *Mongo) ListIdle(ctx context.Context, before time.Time) ([]*domain.Participant, error) {
	return m.findParticipants(ctx, bson.M{"status": domain.StatusOnline, "lastSeen": bson.M{"$lt": before}})
}

func (m *Mongo) RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	c, err := m.coll(collParticipants)
	if err != nil {
		return err
	}
	_, err = c.DeleteOne(ctx, bson.M{"roomId": roomID, "userId": userID})
	return errors.Wrap(err, "remove participant")
}

func (m *Mongo) GetRoomInfo(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	c, err := m.coll(collRooms)
	if err != nil {
		return nil, err
	}
	var r domain.Room
	err = c.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find room")
	}
	return &r, nil
}

func (m *Mongo) SetRoomInfo(ctx context.Context, r *domain.Room) error {
	c, err := m.coll(collRooms)
	if err != nil {
		return err
	}
	_, err = c.UpdateOne(ctx,
		bson.M{"roomId": r.ID},
		bson.M{
			"$set": bson.M{"lastActivity": r.LastActivity, "settings": r.Settings},
			"$setOnInsert": bson.M{
				"creatorId":   r.CreatorID,
				"creatorName": r.CreatorName,
				"createdAt":   r.CreatedAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "set room")
}

func (m *Mongo) CreateRoomIfAbsent(ctx context.Context, r *domain.Room) (*domain.Room, bool, error) {
	c, err := m.coll(collRooms)
	if err != nil {
		return nil, false, err
	}
	res, err := c.UpdateOne(ctx,
		bson.M{"roomId": r.ID},
		bson.M{"$setOnInsert": r},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, false, errors.Wrap(err, "create room")
	}
	if err == nil && res.UpsertedCount == 1 {
		cp := *r
		return &cp, true, nil
	}
	stored, err := m.GetRoomInfo(ctx, r.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, errors.Errorf("room %s vanished after create", r.ID)
	}
	return stored, false, nil
}

func (m *Mongo) TouchRoom(ctx context.Context, roomID domain.RoomID, at time.Time) error {
	c, err := m.coll(collRooms)
	if err != nil {
		return err
	}
	_, err = c.UpdateOne(ctx, bson.M{"roomId": roomID}, bson.M{"$set": bson.M{"lastActivity": at}})
	return errors.Wrap(err, "touch room")
}

func (m *Mongo) DeleteRoomData(ctx context.Context, roomID domain.RoomID) (DeleteResult, error) {
	var res DeleteResult
	db, ok := m.conn.TryGetDB()
	if !ok {
		return res, ErrNotConnected
	}
	dm, err := db.Collection(collMessages).DeleteMany(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return res, errors.Wrap(err, "delete messages")
	}
	res.Messages = dm.DeletedCount
	dp, err := db.Collection(collParticipants).DeleteMany(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return res, errors.Wrap(err, "delete participants")
	}
	res.Participants = dp.DeletedCount
	dr, err := db.Collection(collRooms).DeleteOne(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return res, errors.Wrap(err, "delete room")
	}
	res.Room = dr.DeletedCount > 0
	return res, nil
}
