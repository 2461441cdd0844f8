package mongostore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"planforge/task"
)

// fakeCollection is an in-memory stand-in for the narrow collection
// interface. FindOne is not exercised here: it returns a real
// *mongo.SingleResult that cannot be constructed outside the driver, the
// same limitation branch/mongostore's tests document.
type fakeCollection struct {
	inserted []any
	updates  []bson.M
	replaced []any
	deleted  int
	find     []any
}

func (f *fakeCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	f.inserted = append(f.inserted, document)
	return &mongodriver.InsertOneResult{}, nil
}

func (f *fakeCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult {
	return nil
}

func (f *fakeCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return &fakeCursor{docs: f.find}, nil
}

func (f *fakeCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	if m, ok := filter.(bson.M); ok {
		f.updates = append(f.updates, m)
	}
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (f *fakeCollection) ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	f.replaced = append(f.replaced, replacement)
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	f.deleted++
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func (f *fakeCollection) DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	f.deleted++
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

type fakeCursor struct {
	docs []any
	pos  int
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	switch p := val.(type) {
	case *taskDocument:
		d, ok := c.docs[c.pos-1].(taskDocument)
		if !ok {
			return errors.New("unexpected decode target")
		}
		*p = d
	case *namespaceDocument:
		d, ok := c.docs[c.pos-1].(namespaceDocument)
		if !ok {
			return errors.New("unexpected decode target")
		}
		*p = d
	case *labelDocument:
		d, ok := c.docs[c.pos-1].(labelDocument)
		if !ok {
			return errors.New("unexpected decode target")
		}
		*p = d
	default:
		return errors.New("unexpected decode target")
	}
	return nil
}

func (c *fakeCursor) Err() error              { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }

func TestMongostoreListTasksDecodes(t *testing.T) {
	tasks := &fakeCollection{find: []any{taskDocument{TaskID: "t1", Goal: "g", Namespace: "default", Branches: []string{"main"}}}}
	store := newWithCollections(tasks, &fakeCollection{}, &fakeCollection{})

	out, err := store.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "t1", out[0].TaskID)
	require.Equal(t, []string{"main"}, out[0].Branches)
}

func TestMongostoreAppendBranchUpdates(t *testing.T) {
	tasks := &fakeCollection{}
	store := newWithCollections(tasks, &fakeCollection{}, &fakeCollection{})

	require.NoError(t, store.AppendBranch(context.Background(), "t1", "recover-1"))
	require.Len(t, tasks.updates, 1)
}

func TestMongostoreSetActiveBranch(t *testing.T) {
	tasks := &fakeCollection{}
	store := newWithCollections(tasks, &fakeCollection{}, &fakeCollection{})

	require.NoError(t, store.SetActiveBranch(context.Background(), "t1", "recover-1"))
}

func TestMongostorePutNamespaceUpserts(t *testing.T) {
	namespaces := &fakeCollection{}
	store := newWithCollections(&fakeCollection{}, namespaces, &fakeCollection{})

	require.NoError(t, store.PutNamespace(context.Background(), task.Namespace{Name: "default", AllowedTools: []string{"llm_generate"}}))
	require.Len(t, namespaces.replaced, 1)
}

func TestMongostoreListNamespacesDecodes(t *testing.T) {
	namespaces := &fakeCollection{find: []any{namespaceDocument{Name: "default", AllowedTools: []string{"llm_generate"}}}}
	store := newWithCollections(&fakeCollection{}, namespaces, &fakeCollection{})

	out, err := store.ListNamespaces(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "default", out[0].Name)
}

func TestMongostoreDeleteNamespace(t *testing.T) {
	namespaces := &fakeCollection{}
	store := newWithCollections(&fakeCollection{}, namespaces, &fakeCollection{})

	require.NoError(t, store.DeleteNamespace(context.Background(), "default"))
	require.Equal(t, 1, namespaces.deleted)
}

func TestMongostoreListLabelsDecodes(t *testing.T) {
	labels := &fakeCollection{find: []any{labelDocument{TaskID: "t1", Label: "urgent"}}}
	store := newWithCollections(&fakeCollection{}, &fakeCollection{}, labels)

	out, err := store.ListLabels(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"urgent"}, out)
}

func TestMongostoreUnlabelTask(t *testing.T) {
	labels := &fakeCollection{}
	store := newWithCollections(&fakeCollection{}, &fakeCollection{}, labels)

	require.NoError(t, store.UnlabelTask(context.Background(), "t1", "urgent"))
	require.Equal(t, 1, labels.deleted)
}
