package session

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agio-run/agio/pkg/step"
)

// MongoStore is a durable Store backend, one collection per entity kind
// as the contract suggests (sessions, steps, runs, checkpoints,
// llm_call_logs). It mirrors the delegation shape of a document-store
// session adapter: thin wrappers that map domain calls onto driver
// calls, with no business logic duplicated from InMemoryStore.
type MongoStore struct {
	db          *mongo.Database
	sessions    *mongo.Collection
	steps       *mongo.Collection
	runs        *mongo.Collection
	checkpoints *mongo.Collection
	logs        *mongo.Collection
}

// NewMongoStore wraps an already-connected *mongo.Client; callers own
// the client's lifecycle (connect/disconnect).
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		db:          db,
		sessions:    db.Collection("sessions"),
		steps:       db.Collection("steps"),
		runs:        db.Collection("runs"),
		checkpoints: db.Collection("checkpoints"),
		logs:        db.Collection("llm_call_logs"),
	}
}

// EnsureIndexes creates the unique (session_id, sequence) index on steps
// and the (session_id, start_time) index on runs, per the persisted
// layout contract.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.steps.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "start_time", Value: 1}},
	})
	return err
}

func (s *MongoStore) CreateSession(ctx context.Context, metadata map[string]any) (*step.Session, error) {
	sess := &step.Session{Metadata: metadata, CreatedAt: time.Now().UTC()}
	res, err := s.sessions.InsertOne(ctx, sess)
	if err != nil {
		return nil, err
	}
	sess.ID = res.InsertedID.(bson.ObjectID).Hex()
	return sess, nil
}

func (s *MongoStore) GetSession(ctx context.Context, id string) (*step.Session, error) {
	var sess step.Session
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSessionNotFound
	}
	return &sess, err
}

// AppendStep assigns the next sequence from the session's current step
// count. Unlike InMemoryStore it does not check that a tool step's
// tool_call_id references an earlier assistant call (I2).
func (s *MongoStore) AppendStep(ctx context.Context, sessionID string, rec step.Step) (*step.Step, error) {
	count, err := s.steps.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID
	rec.Sequence = int(count) + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.steps.InsertOne(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) ListSteps(ctx context.Context, sessionID string, startSeq, endSeq int) ([]step.Step, error) {
	filter := bson.M{"session_id": sessionID}
	if startSeq > 0 || endSeq > 0 {
		seqFilter := bson.M{}
		if startSeq > 0 {
			seqFilter["$gte"] = startSeq
		}
		if endSeq > 0 {
			seqFilter["$lte"] = endSeq
		}
		filter["sequence"] = seqFilter
	}
	cur, err := s.steps.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []step.Step
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) GetLastStep(ctx context.Context, sessionID string) (*step.Step, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})
	var rec step.Step
	err := s.steps.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return &rec, err
}

func (s *MongoStore) TruncateSuffix(ctx context.Context, sessionID string, fromSequence int) (int, error) {
	res, err := s.steps.DeleteMany(ctx, bson.M{"session_id": sessionID, "sequence": bson.M{"$gte": fromSequence}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) SaveRun(ctx context.Context, r *step.Run) error {
	_, err := s.runs.ReplaceOne(ctx, bson.M{"_id": r.RunID}, r, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetRun(ctx context.Context, id string) (*step.Run, error) {
	var r step.Run
	err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRunNotFound
	}
	return &r, err
}

func (s *MongoStore) ListRuns(ctx context.Context, filter RunFilter) ([]step.Run, error) {
	q := bson.M{}
	if filter.SessionID != "" {
		q["session_id"] = filter.SessionID
	}
	if filter.AgentID != "" {
		q["agent_id"] = filter.AgentID
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	cur, err := s.runs.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []step.Run
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SaveLLMCallLog(ctx context.Context, l step.LLMCallLog) error {
	_, err := s.logs.InsertOne(ctx, l)
	return err
}

func (s *MongoStore) ListLLMCallLogs(ctx context.Context, filter LogFilter) ([]step.LLMCallLog, error) {
	q := bson.M{}
	if filter.SessionID != "" {
		q["session_id"] = filter.SessionID
	}
	if filter.RunID != "" {
		q["run_id"] = filter.RunID
	}
	cur, err := s.logs.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []step.LLMCallLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Stats(ctx context.Context, sessionID string) (step.Stats, error) {
	logs, err := s.ListLLMCallLogs(ctx, LogFilter{SessionID: sessionID})
	if err != nil {
		return step.Stats{}, err
	}
	var out step.Stats
	var totalDuration int64
	for _, l := range logs {
		out.TotalCalls++
		out.TotalTokens += l.TotalTokens
		if l.Error != "" {
			out.TotalErrors++
		}
		totalDuration += l.DurationMS
	}
	if out.TotalCalls > 0 {
		out.AvgDurationMS = float64(totalDuration) / float64(out.TotalCalls)
	}
	return out, nil
}

func (s *MongoStore) SaveCheckpoint(ctx context.Context, c *step.Checkpoint) error {
	_, err := s.checkpoints.ReplaceOne(ctx, bson.M{"_id": c.CheckpointID}, c, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetCheckpoint(ctx context.Context, id string) (*step.Checkpoint, error) {
	var c step.Checkpoint
	err := s.checkpoints.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCheckpointNotFound
	}
	return &c, err
}

func (s *MongoStore) ListCheckpoints(ctx context.Context, runID string) ([]step.Checkpoint, error) {
	cur, err := s.checkpoints.Find(ctx, bson.M{"run_id": runID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []step.Checkpoint
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) DeleteCheckpoint(ctx context.Context, id string) error {
	res, err := s.checkpoints.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
