package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Collection names inside the platform database
const (
	colApplications   = "applications"
	colFunctions      = "functions"
	colHistory        = "function_history"
	colTemplates      = "function_templates"
	colTasks          = "tasks"
	colScheduledTasks = "scheduled_tasks"
	colMetrics        = "function_metrics"
	colLogs           = "logs"
)

// MongoStore implements Store on top of a MongoDB replica set. A replica set
// is required because task dispatch and cache invalidation ride on change
// streams.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// NewMongoStore connects to MongoDB and prepares the platform database
func NewMongoStore(ctx context.Context, uri, username, password, database string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri)
	if username != "" {
		opts = opts.SetAuth(options.Credential{
			Username: username,
			Password: password,
		})
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: log.WithComponent("store"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Client exposes the underlying connection for per-app database access
func (s *MongoStore) Client() *mongo.Client {
	return s.client
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}
	indexes := []idx{
		{colApplications, bson.D{{Key: "app_id", Value: 1}}, true},
		{colFunctions, bson.D{{Key: "app_id", Value: 1}, {Key: "function_id", Value: 1}}, true},
		{colHistory, bson.D{{Key: "app_id", Value: 1}, {Key: "function_id", Value: 1}}, false},
		{colTemplates, bson.D{{Key: "template_id", Value: 1}}, true},
		{colTasks, bson.D{{Key: "task_id", Value: 1}}, true},
		{colTasks, bson.D{{Key: "status", Value: 1}}, false},
		{colScheduledTasks, bson.D{{Key: "task_id", Value: 1}}, true},
		{colMetrics, bson.D{{Key: "app_id", Value: 1}, {Key: "function_id", Value: 1}}, false},
		{colLogs, bson.D{{Key: "app_id", Value: 1}, {Key: "timestamp", Value: -1}}, false},
	}
	for _, i := range indexes {
		model := mongo.IndexModel{
			Keys:    i.keys,
			Options: options.Index().SetUnique(i.unique),
		}
		if _, err := s.db.Collection(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", i.col, err)
		}
	}
	return nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// Applications

func (s *MongoStore) InsertApplication(ctx context.Context, app *types.Application) error {
	_, err := s.db.Collection(colApplications).InsertOne(ctx, app)
	return translateErr(err)
}

func (s *MongoStore) GetApplication(ctx context.Context, appID string) (*types.Application, error) {
	var app types.Application
	err := s.db.Collection(colApplications).FindOne(ctx, bson.M{"app_id": appID}).Decode(&app)
	if err != nil {
		return nil, translateErr(err)
	}
	return &app, nil
}

func (s *MongoStore) GetApplicationByName(ctx context.Context, name string) (*types.Application, error) {
	var app types.Application
	err := s.db.Collection(colApplications).FindOne(ctx, bson.M{"app_name": name}).Decode(&app)
	if err != nil {
		return nil, translateErr(err)
	}
	return &app, nil
}

// GetApplicationBySubdomain resolves a lowercase subdomain to an app. App
// ids are case-preserving, so the match is case-insensitive.
func (s *MongoStore) GetApplicationBySubdomain(ctx context.Context, sub string) (*types.Application, error) {
	var app types.Application
	filter := bson.M{"app_id": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(sub) + "$", Options: "i"}}
	err := s.db.Collection(colApplications).FindOne(ctx, filter).Decode(&app)
	if err != nil {
		return nil, translateErr(err)
	}
	return &app, nil
}

func (s *MongoStore) ListApplications(ctx context.Context) ([]*types.Application, error) {
	cur, err := s.db.Collection(colApplications).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var apps []*types.Application
	if err := cur.All(ctx, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func (s *MongoStore) ListApplicationsPage(ctx context.Context, user string, page, length int) ([]*types.Application, int64, error) {
	filter := bson.M{}
	if user != "" {
		filter["users"] = user
	}
	col := s.db.Collection(colApplications)
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * length)).
		SetLimit(int64(length))
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var apps []*types.Application
	if err := cur.All(ctx, &apps); err != nil {
		return nil, 0, err
	}
	return apps, total, nil
}

func (s *MongoStore) UpdateApplication(ctx context.Context, app *types.Application) error {
	app.UpdatedAt = time.Now().UTC()
	res, err := s.db.Collection(colApplications).ReplaceOne(ctx, bson.M{"app_id": app.AppID}, app)
	if err != nil {
		return translateErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SetApplicationStatus(ctx context.Context, appID string, status types.ApplicationStatus) error {
	res, err := s.db.Collection(colApplications).UpdateOne(ctx,
		bson.M{"app_id": appID},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return translateErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteApplication(ctx context.Context, appID string) error {
	res, err := s.db.Collection(colApplications).DeleteOne(ctx, bson.M{"app_id": appID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Functions

func (s *MongoStore) InsertFunction(ctx context.Context, fn *types.Function) error {
	_, err := s.db.Collection(colFunctions).InsertOne(ctx, fn)
	return translateErr(err)
}

func (s *MongoStore) GetFunction(ctx context.Context, appID, functionID string) (*types.Function, error) {
	var fn types.Function
	err := s.db.Collection(colFunctions).
		FindOne(ctx, bson.M{"app_id": appID, "function_id": functionID}).Decode(&fn)
	if err != nil {
		return nil, translateErr(err)
	}
	return &fn, nil
}

func (s *MongoStore) GetFunctionByName(ctx context.Context, appID, name string) (*types.Function, error) {
	var fn types.Function
	err := s.db.Collection(colFunctions).
		FindOne(ctx, bson.M{"app_id": appID, "function_name": name}).Decode(&fn)
	if err != nil {
		return nil, translateErr(err)
	}
	return &fn, nil
}

func (s *MongoStore) GetPublishedFunction(ctx context.Context, appID, functionID string, ft types.FunctionType) (*types.Function, error) {
	var fn types.Function
	err := s.db.Collection(colFunctions).FindOne(ctx, bson.M{
		"app_id":        appID,
		"function_id":   functionID,
		"function_type": ft,
		"status":        types.FunctionPublished,
	}).Decode(&fn)
	if err != nil {
		return nil, translateErr(err)
	}
	return &fn, nil
}

func (s *MongoStore) ListFunctions(ctx context.Context, appID string) ([]*types.Function, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.db.Collection(colFunctions).Find(ctx, bson.M{"app_id": appID}, opts)
	if err != nil {
		return nil, err
	}
	var fns []*types.Function
	if err := cur.All(ctx, &fns); err != nil {
		return nil, err
	}
	return fns, nil
}

func (s *MongoStore) ListPublishedCommonFunctions(ctx context.Context, appID string) ([]*types.Function, error) {
	cur, err := s.db.Collection(colFunctions).Find(ctx, bson.M{
		"app_id":        appID,
		"function_type": types.FunctionCommon,
		"status":        types.FunctionPublished,
	})
	if err != nil {
		return nil, err
	}
	var fns []*types.Function
	if err := cur.All(ctx, &fns); err != nil {
		return nil, err
	}
	return fns, nil
}

// UpdateFunctionCode replaces a function's code and appends the change to the
// history collection in the same call.
func (s *MongoStore) UpdateFunctionCode(ctx context.Context, appID, functionID, code, updatedBy string) error {
	fn, err := s.GetFunction(ctx, appID, functionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.Collection(colFunctions).UpdateOne(ctx,
		bson.M{"app_id": appID, "function_id": functionID},
		bson.M{"$set": bson.M{"code": code, "updated_at": now}},
	)
	if err != nil {
		return translateErr(err)
	}
	history := &types.FunctionHistory{
		FunctionID: functionID,
		AppID:      appID,
		OldCode:    fn.Code,
		NewCode:    code,
		UpdatedBy:  updatedBy,
		UpdatedAt:  now,
	}
	if _, err := s.db.Collection(colHistory).InsertOne(ctx, history); err != nil {
		s.logger.Warn().Err(err).Str("function_id", functionID).Msg("failed to record function history")
	}
	return nil
}

// DeleteFunction removes a function together with its history and metrics
func (s *MongoStore) DeleteFunction(ctx context.Context, appID, functionID string) error {
	res, err := s.db.Collection(colFunctions).DeleteOne(ctx, bson.M{"app_id": appID, "function_id": functionID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	filter := bson.M{"app_id": appID, "function_id": functionID}
	if _, err := s.db.Collection(colHistory).DeleteMany(ctx, filter); err != nil {
		s.logger.Warn().Err(err).Str("function_id", functionID).Msg("failed to delete function history")
	}
	if _, err := s.db.Collection(colMetrics).DeleteMany(ctx, filter); err != nil {
		s.logger.Warn().Err(err).Str("function_id", functionID).Msg("failed to delete function metrics")
	}
	return nil
}

func (s *MongoStore) DeleteFunctionsByApp(ctx context.Context, appID string) (int64, error) {
	filter := bson.M{"app_id": appID}
	res, err := s.db.Collection(colFunctions).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Collection(colHistory).DeleteMany(ctx, filter); err != nil {
		s.logger.Warn().Err(err).Str("app_id", appID).Msg("failed to delete app function history")
	}
	if _, err := s.db.Collection(colMetrics).DeleteMany(ctx, filter); err != nil {
		s.logger.Warn().Err(err).Str("app_id", appID).Msg("failed to delete app function metrics")
	}
	return res.DeletedCount, nil
}

// Function history

func (s *MongoStore) ListFunctionHistory(ctx context.Context, appID, functionID string) ([]*types.FunctionHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.db.Collection(colHistory).
		Find(ctx, bson.M{"app_id": appID, "function_id": functionID}, opts)
	if err != nil {
		return nil, err
	}
	var entries []*types.FunctionHistory
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Function templates

func (s *MongoStore) InsertTemplate(ctx context.Context, tpl *types.FunctionTemplate) error {
	_, err := s.db.Collection(colTemplates).InsertOne(ctx, tpl)
	return translateErr(err)
}

func (s *MongoStore) GetTemplate(ctx context.Context, templateID string) (*types.FunctionTemplate, error) {
	var tpl types.FunctionTemplate
	err := s.db.Collection(colTemplates).FindOne(ctx, bson.M{"template_id": templateID}).Decode(&tpl)
	if err != nil {
		return nil, translateErr(err)
	}
	return &tpl, nil
}

func (s *MongoStore) GetDefaultTemplate(ctx context.Context, ft types.FunctionType) (*types.FunctionTemplate, error) {
	var tpl types.FunctionTemplate
	err := s.db.Collection(colTemplates).FindOne(ctx, bson.M{
		"type":          types.TemplateSystem,
		"function_type": ft,
	}).Decode(&tpl)
	if err != nil {
		return nil, translateErr(err)
	}
	return &tpl, nil
}

// ListTemplates returns system templates plus the app's own user templates
func (s *MongoStore) ListTemplates(ctx context.Context, appID string) ([]*types.FunctionTemplate, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"type": types.TemplateSystem},
		bson.M{"type": types.TemplateUser, "app_id": appID},
	}}
	cur, err := s.db.Collection(colTemplates).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var tpls []*types.FunctionTemplate
	if err := cur.All(ctx, &tpls); err != nil {
		return nil, err
	}
	return tpls, nil
}

func (s *MongoStore) UpdateTemplate(ctx context.Context, tpl *types.FunctionTemplate) error {
	tpl.UpdatedAt = time.Now().UTC()
	res, err := s.db.Collection(colTemplates).ReplaceOne(ctx, bson.M{"template_id": tpl.TemplateID}, tpl)
	if err != nil {
		return translateErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteTemplate(ctx context.Context, templateID string) error {
	res, err := s.db.Collection(colTemplates).DeleteOne(ctx, bson.M{"template_id": templateID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteTemplatesByApp(ctx context.Context, appID string) (int64, error) {
	res, err := s.db.Collection(colTemplates).
		DeleteMany(ctx, bson.M{"type": types.TemplateUser, "app_id": appID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CountSystemTemplates(ctx context.Context) (int64, error) {
	return s.db.Collection(colTemplates).CountDocuments(ctx, bson.M{"type": types.TemplateSystem})
}

// Tasks

func (s *MongoStore) InsertTask(ctx context.Context, task *types.Task) error {
	_, err := s.db.Collection(colTasks).InsertOne(ctx, task)
	return translateErr(err)
}

func (s *MongoStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var task types.Task
	err := s.db.Collection(colTasks).FindOne(ctx, bson.M{"task_id": taskID}).Decode(&task)
	if err != nil {
		return nil, translateErr(err)
	}
	return &task, nil
}

// ListRecoverableTasks returns tasks the worker must revisit after a restart:
// everything still pending, start_app tasks that failed, and tasks left in
// running state by a worker that died mid-flight.
func (s *MongoStore) ListRecoverableTasks(ctx context.Context) ([]*types.Task, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"status": types.TaskPending},
		bson.M{"status": types.TaskRunning},
		bson.M{"status": types.TaskFailed, "action": types.ActionStartApp},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.db.Collection(colTasks).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var tasks []*types.Task
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *MongoStore) MarkTask(ctx context.Context, taskID string, status types.TaskStatus, result map[string]interface{}) error {
	set := bson.M{"status": status, "updated_at": time.Now().UTC()}
	if result != nil {
		set["result"] = result
	}
	res, err := s.db.Collection(colTasks).UpdateOne(ctx,
		bson.M{"task_id": taskID}, bson.M{"$set": set})
	if err != nil {
		return translateErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTasksByApp removes queued intents for an app. An empty action matches
// every action; delete_app uses it to drop stale start tasks before teardown.
func (s *MongoStore) DeleteTasksByApp(ctx context.Context, appID string, action types.TaskAction) (int64, error) {
	filter := bson.M{"payload.app_id": appID}
	if action != "" {
		filter["action"] = action
	}
	res, err := s.db.Collection(colTasks).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) HasActiveTask(ctx context.Context, appID string, action types.TaskAction) (bool, error) {
	filter := bson.M{
		"payload.app_id": appID,
		"status":         bson.M{"$in": bson.A{types.TaskPending, types.TaskRunning}},
	}
	if action != "" {
		filter["action"] = action
	}
	n, err := s.db.Collection(colTasks).CountDocuments(ctx, filter)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scheduled tasks

func (s *MongoStore) UpsertScheduledTask(ctx context.Context, task *types.ScheduledTask) error {
	task.UpdatedAt = time.Now().UTC()
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(colScheduledTasks).
		ReplaceOne(ctx, bson.M{"task_id": task.TaskID}, task, opts)
	return translateErr(err)
}

func (s *MongoStore) GetScheduledTask(ctx context.Context, taskID string) (*types.ScheduledTask, error) {
	var task types.ScheduledTask
	err := s.db.Collection(colScheduledTasks).FindOne(ctx, bson.M{"task_id": taskID}).Decode(&task)
	if err != nil {
		return nil, translateErr(err)
	}
	return &task, nil
}

func (s *MongoStore) FindScheduledTask(ctx context.Context, appID, functionID string) (*types.ScheduledTask, error) {
	var task types.ScheduledTask
	err := s.db.Collection(colScheduledTasks).
		FindOne(ctx, bson.M{"app_id": appID, "function_id": functionID}).Decode(&task)
	if err != nil {
		return nil, translateErr(err)
	}
	return &task, nil
}

func (s *MongoStore) ListEnabledScheduledTasks(ctx context.Context) ([]*types.ScheduledTask, error) {
	cur, err := s.db.Collection(colScheduledTasks).Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, err
	}
	var tasks []*types.ScheduledTask
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *MongoStore) DeleteScheduledTask(ctx context.Context, taskID string) error {
	res, err := s.db.Collection(colScheduledTasks).DeleteOne(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteScheduledTasksByApp(ctx context.Context, appID string) (int64, error) {
	res, err := s.db.Collection(colScheduledTasks).DeleteMany(ctx, bson.M{"app_id": appID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Metrics and logs

func (s *MongoStore) InsertFunctionMetric(ctx context.Context, metric *types.FunctionMetric) error {
	_, err := s.db.Collection(colMetrics).InsertOne(ctx, metric)
	return err
}

func (s *MongoStore) DeleteMetricsByFunction(ctx context.Context, appID, functionID string) error {
	_, err := s.db.Collection(colMetrics).
		DeleteMany(ctx, bson.M{"app_id": appID, "function_id": functionID})
	return err
}

func (s *MongoStore) InsertLogEntry(ctx context.Context, entry *types.LogEntry) error {
	_, err := s.db.Collection(colLogs).InsertOne(ctx, entry)
	return err
}

func (s *MongoStore) ListLogEntries(ctx context.Context, q LogQuery) ([]*types.LogEntry, int64, error) {
	filter := bson.M{}
	if q.AppID != "" {
		filter["app_id"] = q.AppID
	}
	if q.FunctionID != "" {
		filter["function_id"] = q.FunctionID
	}
	if q.Level != "" {
		filter["level"] = q.Level
	}
	ts := bson.M{}
	if !q.Since.IsZero() {
		ts["$gte"] = q.Since
	}
	if !q.Until.IsZero() {
		ts["$lte"] = q.Until
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}

	col := s.db.Collection(colLogs)
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	page, length := q.Page, q.Length
	if page < 1 {
		page = 1
	}
	if length < 1 {
		length = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64((page - 1) * length)).
		SetLimit(int64(length))
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var entries []*types.LogEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Utility

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
