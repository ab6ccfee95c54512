package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on MongoDB. Each experiment owns the
// collections "<experiment>.jobs", "<experiment>.hypers" and
// "<experiment>.counters" in one database.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	logger  *slog.Logger
	indexed sync.Map // experiment -> struct{}
}

// NewMongoStore connects to uri and verifies the connection.
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("connected to mongodb", "database", database)
	return newMongoStore(client, client.Database(database), logger), nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database, logger *slog.Logger) *MongoStore {
	return &MongoStore{
		client: client,
		db:     db,
		logger: logging.Component(logger, "store"),
	}
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Migrate is a no-op; job indexes are created per experiment on first use.
func (s *MongoStore) Migrate(_ context.Context) error {
	return nil
}

func (s *MongoStore) collection(experiment, name string) *mongo.Collection {
	return s.db.Collection(experiment + "." + name)
}

func (s *MongoStore) jobs(ctx context.Context, experiment string) *mongo.Collection {
	coll := s.collection(experiment, "jobs")
	if _, done := s.indexed.LoadOrStore(experiment, struct{}{}); done {
		return coll
	}
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		s.logger.Warn("failed to create index on job id", "experiment", experiment, "error", err)
	}
	return coll
}

// --- Jobs ---

func (s *MongoStore) LoadJobs(ctx context.Context, experiment string) ([]*model.Job, error) {
	s.logger.Debug("mongo", "op", "find", "collection", "jobs", "experiment", experiment)

	cursor, err := s.jobs(ctx, experiment).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, &model.StoreError{Op: "load jobs", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &model.StoreError{Op: "load jobs", Err: err}
	}

	jobs := make([]*model.Job, 0, len(docs))
	for _, doc := range docs {
		job, err := jobFromDocument(doc)
		if err != nil {
			return nil, &model.StoreError{Op: "load jobs", Err: err}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *MongoStore) LoadJob(ctx context.Context, experiment string, id int) (*model.Job, error) {
	s.logger.Debug("mongo", "op", "find_one", "collection", "jobs", "experiment", experiment, "id", id)

	var doc bson.M
	err := s.jobs(ctx, experiment).FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "load job", Err: err}
	}

	job, err := jobFromDocument(doc)
	if err != nil {
		return nil, &model.StoreError{Op: "load job", Err: err}
	}
	return job, nil
}

// SaveJob upserts the job keyed by id and bumps its revision.
func (s *MongoStore) SaveJob(ctx context.Context, experiment string, job *model.Job) error {
	s.logger.Debug("mongo", "op", "upsert", "collection", "jobs", "experiment", experiment, "id", job.ID, "status", job.Status)

	doc, err := jobToDocument(job)
	if err != nil {
		return &model.StoreError{Op: "save job", Err: err}
	}
	update := bson.M{"$set": doc, "$inc": bson.M{"revision": 1}}
	if unset := absentOptionalFields(doc); len(unset) > 0 {
		update["$unset"] = unset
	}

	var out struct {
		Revision int `bson:"revision"`
	}
	err = s.jobs(ctx, experiment).FindOneAndUpdate(ctx, bson.M{"id": job.ID}, update,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After).
			SetProjection(bson.M{"revision": 1}),
	).Decode(&out)
	if err != nil {
		return &model.StoreError{Op: "save job", Err: err}
	}
	job.Revision = out.Revision
	return nil
}

func (s *MongoStore) CompareAndSaveJob(ctx context.Context, experiment string, job *model.Job, expected model.JobStatus) (bool, error) {
	s.logger.Debug("mongo", "op", "cas", "collection", "jobs", "experiment", experiment, "id", job.ID,
		"expected", expected, "status", job.Status, "revision", job.Revision)

	doc, err := jobToDocument(job)
	if err != nil {
		return false, &model.StoreError{Op: "save job", Err: err}
	}
	doc["revision"] = job.Revision + 1

	filter := bson.M{"id": job.ID, "status": string(expected), "revision": job.Revision}
	if job.Revision == 0 {
		// Records written before revisions existed have no field.
		filter["revision"] = bson.M{"$in": bson.A{0, nil}}
	}
	res, err := s.jobs(ctx, experiment).ReplaceOne(ctx, filter, doc)
	if err != nil {
		return false, &model.StoreError{Op: "save job", Err: err}
	}
	if res.MatchedCount != 1 {
		return false, nil
	}
	job.Revision++
	return true, nil
}

// NextJobID raises the counter to at least the highest stored id, then
// increments it atomically.
func (s *MongoStore) NextJobID(ctx context.Context, experiment string) (int, error) {
	counters := s.collection(experiment, "counters")

	var top struct {
		ID int `bson:"id"`
	}
	err := s.jobs(ctx, experiment).FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}}).SetProjection(bson.M{"id": 1}),
	).Decode(&top)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}

	if _, err := counters.UpdateOne(ctx,
		bson.M{"_id": jobCounter},
		bson.M{"$max": bson.M{"value": top.ID}},
		options.Update().SetUpsert(true),
	); err != nil {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}

	var out struct {
		Value int `bson:"value"`
	}
	err = counters.FindOneAndUpdate(ctx,
		bson.M{"_id": jobCounter},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}
	return out.Value, nil
}

// --- Hypers ---

func (s *MongoStore) LoadHypers(ctx context.Context, experiment string) (*model.Hypers, error) {
	var doc bson.M
	err := s.collection(experiment, "hypers").FindOne(ctx, bson.M{"_id": "hypers"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "load hypers", Err: err}
	}

	delete(doc, "_id")
	var h model.Hypers
	if err := roundTrip(doc, &h); err != nil {
		return nil, &model.StoreError{Op: "load hypers", Err: err}
	}
	return &h, nil
}

func (s *MongoStore) SaveHypers(ctx context.Context, experiment string, h *model.Hypers) error {
	var doc bson.M
	if err := roundTrip(h, &doc); err != nil {
		return &model.StoreError{Op: "save hypers", Err: err}
	}
	doc["_id"] = "hypers"

	_, err := s.collection(experiment, "hypers").ReplaceOne(ctx, bson.M{"_id": "hypers"}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return &model.StoreError{Op: "save hypers", Err: err}
	}
	return nil
}

// jobToDocument converts a job to its persisted document shape, keeping id
// an integer so filters match.
func jobToDocument(job *model.Job) (bson.M, error) {
	var doc bson.M
	if err := roundTrip(job, &doc); err != nil {
		return nil, fmt.Errorf("encode job %d: %w", job.ID, err)
	}
	doc["id"] = job.ID
	return doc, nil
}

// absentOptionalFields lists the omitempty job fields missing from doc so
// an update clears what a replace would have dropped.
func absentOptionalFields(doc bson.M) bson.M {
	unset := bson.M{}
	for _, field := range []string{"proc_id", "values", "error"} {
		if _, ok := doc[field]; !ok {
			unset[field] = ""
		}
	}
	return unset
}

func jobFromDocument(doc bson.M) (*model.Job, error) {
	delete(doc, "_id")
	revision := documentRevision(doc)
	delete(doc, "revision")
	var job model.Job
	if err := roundTrip(doc, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if _, err := model.ParseJobStatus(string(job.Status)); err != nil {
		return nil, fmt.Errorf("job %d: %w", job.ID, err)
	}
	job.Revision = revision
	return &job, nil
}

func documentRevision(doc bson.M) int {
	switch v := doc["revision"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// roundTrip converts between JSON-tagged structs and generic documents.
func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
