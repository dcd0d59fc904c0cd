package backend

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// defaultMongoDatabase is used when the URL names no database.
const defaultMongoDatabase = "admin"

// DocumentCommand is a database command for the document store.
type DocumentCommand struct {
	// Database overrides the database named in the endpoint URL.
	Database string
	// Command is the command document, usually a bson.D.
	Command any
}

type mongoSession struct {
	client   *mongo.Client
	database string
}

// MongoAdapter serves mongodb:// and mongodb+srv:// endpoints.
type MongoAdapter struct {
	logger observability.Logger
}

// NewMongoAdapter creates a document store adapter.
func NewMongoAdapter(logger observability.Logger) *MongoAdapter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &MongoAdapter{logger: logger}
}

// Kind implements Adapter.
func (a *MongoAdapter) Kind() Kind {
	return KindMongoDB
}

// Open implements Adapter. The driver's own pool is capped at one
// connection.
func (a *MongoAdapter) Open(ctx context.Context, endpoint string, opts OpenOptions) (Session, error) {
	cs, err := connstring.ParseAndValidate(endpoint)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("url", "invalid mongodb URL", err)
	}

	clientOpts := options.Client().
		ApplyURI(endpoint).
		SetMaxPoolSize(1).
		SetMinPoolSize(0)
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout).
			SetServerSelectionTimeout(opts.ConnectTimeout)
	}

	openCtx, cancel := withOpenTimeout(ctx, opts)
	defer cancel()

	client, err := mongo.Connect(openCtx, clientOpts)
	if err != nil {
		return nil, util.NewConnectError(string(KindMongoDB), endpoint, err)
	}
	if err := client.Ping(openCtx, readpref.Primary()); err != nil {
		a.disconnect(client)
		return nil, util.NewConnectError(string(KindMongoDB), endpoint, err)
	}

	database := cs.Database
	if database == "" {
		database = defaultMongoDatabase
	}

	return &mongoSession{client: client, database: database}, nil
}

// Validate implements Adapter.
func (a *MongoAdapter) Validate(ctx context.Context, s Session) bool {
	sess, ok := s.(*mongoSession)
	if !ok {
		return false
	}
	return sess.client.Ping(ctx, readpref.Primary()) == nil
}

// Execute implements Adapter. query is a DocumentCommand or a bare command
// document run against the URL's database. The result is a bson.M.
func (a *MongoAdapter) Execute(ctx context.Context, s Session, query any, _ ...any) (any, error) {
	sess, ok := s.(*mongoSession)
	if !ok {
		return nil, util.NewQueryError(string(KindMongoDB), fmt.Errorf("unexpected session type %T", s))
	}

	database := sess.database
	var command any
	switch q := query.(type) {
	case DocumentCommand:
		command = q.Command
		if q.Database != "" {
			database = q.Database
		}
	case *DocumentCommand:
		if q == nil {
			return nil, util.NewQueryError(string(KindMongoDB), errors.New("nil command"))
		}
		command = q.Command
		if q.Database != "" {
			database = q.Database
		}
	case bson.D, bson.M:
		command = q
	default:
		return nil, util.NewQueryError(string(KindMongoDB), fmt.Errorf("unsupported mongodb query type %T", query))
	}
	if command == nil {
		return nil, util.NewQueryError(string(KindMongoDB), errors.New("empty command document"))
	}

	var result bson.M
	if err := sess.client.Database(database).RunCommand(ctx, command).Decode(&result); err != nil {
		return nil, a.classify(err)
	}
	return result, nil
}

func (a *MongoAdapter) classify(err error) error {
	switch {
	case util.IsContextError(err):
		return util.NewQueryError(string(KindMongoDB), err)
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return util.NewSessionLostError(string(KindMongoDB), err)
	default:
		return util.NewQueryError(string(KindMongoDB), err)
	}
}

// Close implements Adapter.
func (a *MongoAdapter) Close(_ context.Context, s Session) {
	sess, ok := s.(*mongoSession)
	if !ok {
		return
	}
	a.disconnect(sess.client)
}

func (a *MongoAdapter) disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		a.logger.Warn("failed to disconnect mongodb session",
			observability.Error(err),
		)
	}
}
