// Package mongostore implements task.Store against MongoDB, for deployments
// that already run Mongo for task/session metadata and would rather not add
// a SQLite file alongside it. It follows the same narrow-collection
// interface pattern as branch/mongostore and the teacher's
// features/session/mongo, features/run/mongo client wrappers: a small
// interface names only the driver calls actually used, so tests substitute
// an in-memory fake instead of a live server.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"planforge/task"
)

type taskDocument struct {
	TaskID       string   `bson:"_id"`
	Goal         string   `bson:"goal"`
	Namespace    string   `bson:"namespace"`
	CreatedAt    int64    `bson:"created_at"`
	Branches     []string `bson:"branches"`
	ActiveBranch string   `bson:"active_branch,omitempty"`
}

type namespaceDocument struct {
	Name         string   `bson:"_id"`
	Description  string   `bson:"description,omitempty"`
	AllowedTools []string `bson:"allowed_tools"`
}

type labelDocument struct {
	TaskID string `bson:"task_id"`
	Label  string `bson:"label"`
}

// collection is the subset of *mongo.Collection the store depends on.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// Store is a MongoDB-backed task.Store.
type Store struct {
	tasks      collection
	namespaces collection
	labels     collection
}

type mongoCollection struct{ coll *mongodriver.Collection }

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}
func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}
func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}
func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}
func (c mongoCollection) ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}
func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}
func (c mongoCollection) DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter, opts...)
}

// Open builds a Store against database db of client, using the conventional
// "tasks", "namespaces", and "task_labels" collections.
func Open(client *mongodriver.Client, db string) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if db == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	return &Store{
		tasks:      mongoCollection{coll: client.Database(db).Collection("tasks")},
		namespaces: mongoCollection{coll: client.Database(db).Collection("namespaces")},
		labels:     mongoCollection{coll: client.Database(db).Collection("task_labels")},
	}, nil
}

func newWithCollections(tasks, namespaces, labels collection) *Store {
	return &Store{tasks: tasks, namespaces: namespaces, labels: labels}
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) error {
	doc := taskDocument{
		TaskID:       t.TaskID,
		Goal:         t.Goal,
		Namespace:    t.Namespace,
		CreatedAt:    t.CreatedAt.UnixNano(),
		Branches:     t.Branches,
		ActiveBranch: t.ActiveBranch,
	}
	_, err := s.tasks.InsertOne(ctx, doc)
	return err
}

func (s *Store) GetTask(ctx context.Context, taskID string) (task.Task, error) {
	res := s.tasks.FindOne(ctx, bson.M{"_id": taskID})
	var doc taskDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, err
	}
	return decodeTask(doc), nil
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	cur, err := s.tasks.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []task.Task
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, decodeTask(doc))
	}
	return out, cur.Err()
}

func (s *Store) AppendBranch(ctx context.Context, taskID, branchName string) error {
	_, err := s.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$addToSet": bson.M{"branches": branchName}})
	return err
}

func (s *Store) RemoveBranch(ctx context.Context, taskID, branchName string) error {
	_, err := s.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$pull": bson.M{"branches": branchName}})
	return err
}

func (s *Store) SetActiveBranch(ctx context.Context, taskID, branchName string) error {
	res, err := s.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$set": bson.M{"active_branch": branchName}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *Store) PutNamespace(ctx context.Context, ns task.Namespace) error {
	doc := namespaceDocument{Name: ns.Name, Description: ns.Description, AllowedTools: ns.AllowedTools}
	_, err := s.namespaces.ReplaceOne(ctx, bson.M{"_id": ns.Name}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) GetNamespace(ctx context.Context, name string) (task.Namespace, error) {
	res := s.namespaces.FindOne(ctx, bson.M{"_id": name})
	var doc namespaceDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return task.Namespace{}, task.ErrNotFound
		}
		return task.Namespace{}, err
	}
	return task.Namespace{Name: doc.Name, Description: doc.Description, AllowedTools: doc.AllowedTools}, nil
}

func (s *Store) ListNamespaces(ctx context.Context) ([]task.Namespace, error) {
	cur, err := s.namespaces.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []task.Namespace
	for cur.Next(ctx) {
		var doc namespaceDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, task.Namespace{Name: doc.Name, Description: doc.Description, AllowedTools: doc.AllowedTools})
	}
	return out, cur.Err()
}

func (s *Store) DeleteNamespace(ctx context.Context, name string) error {
	res, err := s.namespaces.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *Store) LabelTask(ctx context.Context, taskID, label string) error {
	_, err := s.labels.UpdateOne(ctx,
		bson.M{"task_id": taskID, "label": label},
		bson.M{"$setOnInsert": labelDocument{TaskID: taskID, Label: label}},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) UnlabelTask(ctx context.Context, taskID, label string) error {
	_, err := s.labels.DeleteMany(ctx, bson.M{"task_id": taskID, "label": label})
	return err
}

func (s *Store) ListLabels(ctx context.Context, taskID string) ([]string, error) {
	cur, err := s.labels.Find(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		var doc labelDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Label)
	}
	return out, cur.Err()
}

func decodeTask(doc taskDocument) task.Task {
	return task.Task{
		TaskID:       doc.TaskID,
		Goal:         doc.Goal,
		Namespace:    doc.Namespace,
		CreatedAt:    time.Unix(0, doc.CreatedAt).UTC(),
		Branches:     doc.Branches,
		ActiveBranch: doc.ActiveBranch,
	}
}
