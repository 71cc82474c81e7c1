package store

import (
	"context"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hyac-dev/hyac/pkg/types"
)

// ChangeEvent is one decoded change-stream document
type ChangeEvent struct {
	OperationType     string   `bson:"operationType"`
	FullDocument      bson.Raw `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
}

// Watch backoff bounds. A broken stream is reopened after a randomized delay
// so a flapping replica set does not get hammered.
const (
	watchBackoffMin = 5 * time.Second
	watchBackoffMax = 10 * time.Second
)

func watchBackoff() time.Duration {
	return watchBackoffMin + time.Duration(rand.Int63n(int64(watchBackoffMax-watchBackoffMin)))
}

// watch runs a change stream against one collection and invokes handler for
// every event. The stream is reopened with backoff on any error until the
// context is cancelled. Events arriving while the stream is down are lost;
// consumers pair a watch with a periodic reconciliation sweep for that
// reason.
func (s *MongoStore) watch(ctx context.Context, col string, pipeline mongo.Pipeline, handler func(ChangeEvent)) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := s.db.Collection(col).Watch(ctx, pipeline, opts)
		if err != nil {
			s.logger.Error().Err(err).Str("collection", col).Msg("failed to open change stream")
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchBackoff()):
			}
			continue
		}

		for stream.Next(ctx) {
			var ev ChangeEvent
			if err := stream.Decode(&ev); err != nil {
				s.logger.Warn().Err(err).Str("collection", col).Msg("failed to decode change event")
				continue
			}
			handler(ev)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("collection", col).Msg("change stream broken, reopening")
		}
		stream.Close(context.Background())

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchBackoff()):
		}
	}
}

// WatchPendingTasks invokes handler for every task that enters pending state,
// whether freshly inserted or reset by recovery. Blocks until ctx is done.
func (s *MongoStore) WatchPendingTasks(ctx context.Context, handler func(*types.Task)) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":       bson.M{"$in": bson.A{"insert", "update", "replace"}},
			"fullDocument.status": types.TaskPending,
		}}},
	}
	s.watch(ctx, colTasks, pipeline, func(ev ChangeEvent) {
		var task types.Task
		if err := bson.Unmarshal(ev.FullDocument, &task); err != nil {
			s.logger.Warn().Err(err).Msg("failed to decode task from change event")
			return
		}
		handler(&task)
	})
}

// FunctionChange describes one observed mutation of a function document.
// Function is nil for deletes.
type FunctionChange struct {
	Op          string
	Function    *types.Function
	CodeChanged bool
}

// WatchFunctions streams mutations of one app's functions. The runtime uses
// it to invalidate compiled code. Blocks until ctx is done.
func (s *MongoStore) WatchFunctions(ctx context.Context, appID string, handler func(FunctionChange)) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"$or": bson.A{
				bson.M{"operationType": "delete"},
				bson.M{"fullDocument.app_id": appID},
			},
		}}},
	}
	s.watch(ctx, colFunctions, pipeline, func(ev ChangeEvent) {
		change := FunctionChange{Op: ev.OperationType}
		if len(ev.FullDocument) > 0 {
			var fn types.Function
			if err := bson.Unmarshal(ev.FullDocument, &fn); err != nil {
				s.logger.Warn().Err(err).Msg("failed to decode function from change event")
				return
			}
			change.Function = &fn
		}
		if ev.UpdateDescription.UpdatedFields != nil {
			for field := range ev.UpdateDescription.UpdatedFields {
				if field == "code" || field == "status" || field == "function_name" {
					change.CodeChanged = true
					break
				}
			}
		} else if ev.OperationType != "update" {
			change.CodeChanged = true
		}
		handler(change)
	})
}

// WatchApplication streams mutations of one application document. The
// runtime uses it to track environment variable changes. Blocks until ctx is
// done.
func (s *MongoStore) WatchApplication(ctx context.Context, appID string, handler func(*types.Application)) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":       bson.M{"$in": bson.A{"update", "replace"}},
			"fullDocument.app_id": appID,
		}}},
	}
	s.watch(ctx, colApplications, pipeline, func(ev ChangeEvent) {
		var app types.Application
		if err := bson.Unmarshal(ev.FullDocument, &app); err != nil {
			s.logger.Warn().Err(err).Msg("failed to decode application from change event")
			return
		}
		handler(&app)
	})
}

// WatchLogs streams newly inserted log entries, optionally restricted to one
// app. Feeds the websocket log endpoint. Blocks until ctx is done.
func (s *MongoStore) WatchLogs(ctx context.Context, appID string, handler func(*types.LogEntry)) {
	match := bson.M{"operationType": "insert"}
	if appID != "" {
		match["fullDocument.app_id"] = appID
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}
	s.watch(ctx, colLogs, pipeline, func(ev ChangeEvent) {
		var entry types.LogEntry
		if err := bson.Unmarshal(ev.FullDocument, &entry); err != nil {
			s.logger.Warn().Err(err).Msg("failed to decode log entry from change event")
			return
		}
		handler(&entry)
	})
}
