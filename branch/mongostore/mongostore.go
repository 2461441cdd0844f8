// Package mongostore implements branch.Store against MongoDB, grounded on
// the same narrow-collection-interface pattern the teacher uses for its
// run/runlog/session Mongo clients: a small interface wraps the handful of
// driver calls actually used, so tests substitute a fake collection instead
// of a live server.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"planforge/branch"
)

// commitDocument is the BSON projection of a branch.Commit. The commit body
// itself is stored as its canonical JSON encoding so Hash() verification
// and the Go JSON struct tags remain the single source of truth for shape;
// BSON fields exist only to index and order.
//
// CommitHash is a plain indexed field, not the document's _id: branch is
// part of each commit's content hash (branch/types.go), and Fork gives a
// new branch its own membership row pointing at the same (unmutated) body
// rather than rewriting history, so the same hash legitimately appears in
// more than one document once a branch has been forked.
type commitDocument struct {
	CommitHash string `bson:"commit_hash"`
	ParentHash string `bson:"parent_hash"`
	TaskID     string `bson:"task_id"`
	Branch     string `bson:"branch"`
	SeqNo      int    `bson:"seq_no"`
	Ordinal    int64  `bson:"ordinal"`
	Body       []byte `bson:"body"`
}

type branchDocument struct {
	TaskID     string `bson:"task_id"`
	Name       string `bson:"name"`
	ForkedFrom string `bson:"forked_from,omitempty"`
	ForkedAt   string `bson:"forked_at,omitempty"`
}

// collection is the subset of *mongo.Collection the store depends on.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// Store is a MongoDB-backed branch.Store.
type Store struct {
	commits  collection
	branches collection
}

// mongoCollection adapts *mongo.Collection to the collection interface.
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
func (c mongoCollection) DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter, opts...)
}

// Open builds a Store against database db of client, using the
// conventional "commits" and "branches" collections.
func Open(client *mongodriver.Client, db string) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if db == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	return &Store{
		commits:  mongoCollection{coll: client.Database(db).Collection("commits")},
		branches: mongoCollection{coll: client.Database(db).Collection("branches")},
	}, nil
}

// newWithCollections builds a Store directly from collection
// implementations, used by tests to inject fakes.
func newWithCollections(commits, branches collection) *Store {
	return &Store{commits: commits, branches: branches}
}

func (s *Store) Head(ctx context.Context, taskID, branchName string) (branch.Commit, error) {
	res := s.commits.FindOne(ctx, bson.M{"task_id": taskID, "branch": branchName}, options.FindOne().SetSort(bson.D{{Key: "ordinal", Value: -1}}))
	var doc commitDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return branch.Commit{}, fmt.Errorf("mongostore: branch %q has no commits", branchName)
		}
		return branch.Commit{}, err
	}
	return decodeCommit(doc)
}

func (s *Store) Append(ctx context.Context, branchName string, commit branch.Commit) error {
	wantHash, err := commit.Hash()
	if err != nil {
		return err
	}
	if commit.CommitHash != wantHash {
		return fmt.Errorf("mongostore: commit hash mismatch: got %s want %s", commit.CommitHash, wantHash)
	}

	head, err := s.Head(ctx, commit.TaskID, branchName)
	switch {
	case err != nil && commit.ParentHash != "":
		return fmt.Errorf("mongostore: append to empty branch %q: expected empty parent_hash", branchName)
	case err == nil && head.CommitHash != commit.ParentHash:
		return fmt.Errorf("mongostore: append to %q: parent %s does not match head %s", branchName, commit.ParentHash, head.CommitHash)
	}

	ordinal, err := s.countCommits(ctx, commit.TaskID, branchName)
	if err != nil {
		return err
	}

	body, err := json.Marshal(commit)
	if err != nil {
		return err
	}
	doc := commitDocument{
		CommitHash: commit.CommitHash,
		ParentHash: commit.ParentHash,
		TaskID:     commit.TaskID,
		Branch:     branchName,
		SeqNo:      commit.SeqNo,
		Ordinal:    ordinal,
		Body:       body,
	}
	if _, err := s.commits.InsertOne(ctx, doc); err != nil {
		return err
	}
	if _, err := s.branches.InsertOne(ctx, branchDocument{TaskID: commit.TaskID, Name: branchName}); err != nil {
		// branch document may already exist; ignore duplicate-key style errors
		// from the underlying driver since InsertOne has no upsert mode.
		_ = err
	}
	return nil
}

func (s *Store) countCommits(ctx context.Context, taskID, branchName string) (int64, error) {
	cur, err := s.commits.Find(ctx, bson.M{"task_id": taskID, "branch": branchName})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	var n int64
	for cur.Next(ctx) {
		n++
	}
	return n, cur.Err()
}

// Fork gives newBranch a membership row for each of branchName's commits up
// to and including atCommit. Each new row carries the exact Body read from
// the source row: branch is folded into CommitHash (branch/types.go), so
// re-marshaling a commit with its Branch field rewritten would leave the
// stored hash no longer equal to Hash(commit). The fork point is recorded
// on the new branchDocument's ForkedFrom/ForkedAt instead.
func (s *Store) Fork(ctx context.Context, taskID, branchName, atCommit, newBranch string) error {
	cur, err := s.commits.Find(ctx, bson.M{"task_id": taskID, "branch": branchName}, options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}}))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	var found bool
	var ordinal int64
	for cur.Next(ctx) {
		var doc commitDocument
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		if _, err := s.commits.InsertOne(ctx, commitDocument{
			CommitHash: doc.CommitHash,
			ParentHash: doc.ParentHash,
			TaskID:     taskID,
			Branch:     newBranch,
			SeqNo:      doc.SeqNo,
			Ordinal:    ordinal,
			Body:       doc.Body,
		}); err != nil {
			return err
		}
		ordinal++
		if doc.CommitHash == atCommit {
			found = true
			break
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("mongostore: commit %s not found on %s", atCommit, branchName)
	}
	_, err = s.branches.InsertOne(ctx, branchDocument{TaskID: taskID, Name: newBranch, ForkedFrom: branchName, ForkedAt: atCommit})
	return err
}

func (s *Store) ListBranches(ctx context.Context, taskID string) ([]branch.Branch, error) {
	cur, err := s.branches.Find(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []branch.Branch
	for cur.Next(ctx) {
		var doc branchDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		hashes, err := s.commitHashes(ctx, taskID, doc.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, branch.Branch{
			TaskID:       taskID,
			Name:         doc.Name,
			CommitHashes: hashes,
			ForkedFrom:   doc.ForkedFrom,
			ForkedAt:     doc.ForkedAt,
		})
	}
	return out, cur.Err()
}

func (s *Store) commitHashes(ctx context.Context, taskID, branchName string) ([]string, error) {
	commits, err := s.ListCommits(ctx, taskID, branchName)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(commits))
	for _, c := range commits {
		hashes = append(hashes, c.CommitHash)
	}
	return hashes, nil
}

func (s *Store) ListCommits(ctx context.Context, taskID, branchName string) ([]branch.Commit, error) {
	cur, err := s.commits.Find(ctx, bson.M{"task_id": taskID, "branch": branchName}, options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []branch.Commit
	for cur.Next(ctx) {
		var doc commitDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		c, err := decodeCommit(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

func (s *Store) GetCommit(ctx context.Context, hash string) (branch.Commit, error) {
	res := s.commits.FindOne(ctx, bson.M{"commit_hash": hash})
	var doc commitDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return branch.Commit{}, fmt.Errorf("mongostore: commit %s not found", hash)
		}
		return branch.Commit{}, err
	}
	return decodeCommit(doc)
}

// DeleteBranch removes branchName's own commit documents and its branch
// document. Safe even when branchName shares ancestry with another branch:
// Fork gives every branch its own membership documents, so deleting one
// branch's rows never touches another branch's rows even where commit_hash
// is equal.
func (s *Store) DeleteBranch(ctx context.Context, taskID, branchName string) error {
	if branchName == branch.MainBranch {
		return fmt.Errorf("mongostore: cannot delete %q", branch.MainBranch)
	}
	if _, err := s.commits.DeleteMany(ctx, bson.M{"task_id": taskID, "branch": branchName}); err != nil {
		return err
	}
	_, err := s.branches.DeleteMany(ctx, bson.M{"task_id": taskID, "name": branchName})
	return err
}

func decodeCommit(doc commitDocument) (branch.Commit, error) {
	var c branch.Commit
	if err := json.Unmarshal(doc.Body, &c); err != nil {
		return branch.Commit{}, err
	}
	return c, nil
}
