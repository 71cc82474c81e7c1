package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hyac-dev/hyac/pkg/blob"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/notify"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

const dbOpTimeout = 10 * time.Second

// Capabilities is everything handler code may touch, threaded through the
// per-request context object instead of ambient globals.
type Capabilities struct {
	store    store.Store
	appDB    *mongo.Database
	blob     *blob.Manager
	notifier *notify.Notifier
	sink     *log.Sink
	env      *EnvManager
	app      func() *types.Application
}

// throw converts a Go error into a JavaScript exception
func throw(vm *goja.Runtime, err error) {
	panic(vm.NewGoError(err))
}

// buildContext assembles the `context` value handler code receives
func (c *Capabilities) buildContext(vm *goja.Runtime, reqCtx context.Context, functionID string, commons map[string]*Artifact) (*goja.Object, error) {
	app := c.app()
	ctxObj := vm.NewObject()
	ctxObj.Set("app_id", app.AppID)
	ctxObj.Set("func_id", functionID)
	ctxObj.Set("env", c.envObject(vm, reqCtx))
	ctxObj.Set("db", c.dbObject(vm, reqCtx))
	ctxObj.Set("minio_open", c.minioOpen(vm, reqCtx, app))
	ctxObj.Set("notify", c.notifyFunc(vm, reqCtx, app))
	ctxObj.Set("log", c.logFunc(app, functionID))

	common, err := c.commonNamespace(vm, commons)
	if err != nil {
		return nil, err
	}
	ctxObj.Set("common", common)
	return ctxObj, nil
}

// envObject exposes get/set over the process environment. set also persists
// the variable on the application document so it survives restarts.
func (c *Capabilities) envObject(vm *goja.Runtime, reqCtx context.Context) *goja.Object {
	obj := vm.NewObject()
	obj.Set("get", func(key string) goja.Value {
		if v, found := os.LookupEnv(key); found {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	obj.Set("set", func(key, value string) {
		if err := c.env.Set(reqCtx, key, value); err != nil {
			throw(vm, err)
		}
	})
	return obj
}

// dbObject exposes a scoped facade over the app's dedicated database
func (c *Capabilities) dbObject(vm *goja.Runtime, reqCtx context.Context) *goja.Object {
	toFilter := func(v goja.Value) bson.M {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return bson.M{}
		}
		if m, isMap := v.Export().(map[string]interface{}); isMap {
			return bson.M(m)
		}
		return bson.M{}
	}
	run := func(fn func(ctx context.Context) (interface{}, error)) goja.Value {
		ctx, cancel := context.WithTimeout(reqCtx, dbOpTimeout)
		defer cancel()
		out, err := fn(ctx)
		if err != nil {
			throw(vm, err)
		}
		return vm.ToValue(out)
	}

	obj := vm.NewObject()
	obj.Set("insert_one", func(col string, doc goja.Value) goja.Value {
		return run(func(ctx context.Context) (interface{}, error) {
			res, err := c.appDB.Collection(col).InsertOne(ctx, toFilter(doc))
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("%v", res.InsertedID), nil
		})
	})
	obj.Set("find_one", func(col string, filter goja.Value) goja.Value {
		return run(func(ctx context.Context) (interface{}, error) {
			var doc bson.M
			err := c.appDB.Collection(col).FindOne(ctx, toFilter(filter)).Decode(&doc)
			if err == mongo.ErrNoDocuments {
				return nil, nil
			}
			return doc, err
		})
	})
	obj.Set("find", func(col string, filter goja.Value, limit int64) goja.Value {
		return run(func(ctx context.Context) (interface{}, error) {
			opts := options.Find()
			if limit > 0 {
				opts.SetLimit(limit)
			}
			cur, err := c.appDB.Collection(col).Find(ctx, toFilter(filter), opts)
			if err != nil {
				return nil, err
			}
			var docs []bson.M
			if err := cur.All(ctx, &docs); err != nil {
				return nil, err
			}
			return docs, nil
		})
	})
	obj.Set("update_one", func(col string, filter, set goja.Value) goja.Value {
		return run(func(ctx context.Context) (interface{}, error) {
			res, err := c.appDB.Collection(col).UpdateOne(ctx, toFilter(filter), bson.M{"$set": toFilter(set)})
			if err != nil {
				return nil, err
			}
			return res.ModifiedCount, nil
		})
	})
	obj.Set("delete_one", func(col string, filter goja.Value) goja.Value {
		return run(func(ctx context.Context) (interface{}, error) {
			res, err := c.appDB.Collection(col).DeleteOne(ctx, toFilter(filter))
			if err != nil {
				return nil, err
			}
			return res.DeletedCount, nil
		})
	})
	obj.Set("count", func(col string, filter goja.Value) goja.Value {
		return run(func(ctx context.Context) (interface{}, error) {
			return c.appDB.Collection(col).CountDocuments(ctx, toFilter(filter))
		})
	})
	return obj
}

// minioOpen exposes file-open semantics over the app's private bucket
func (c *Capabilities) minioOpen(vm *goja.Runtime, reqCtx context.Context, app *types.Application) func(string, string) *goja.Object {
	return func(key, mode string) *goja.Object {
		f, err := c.blob.Open(reqCtx, app.BucketName(), key, mode)
		if err != nil {
			switch err {
			case blob.ErrNotExist:
				throw(vm, fmt.Errorf("FileNotFound: %s", key))
			case blob.ErrExist:
				throw(vm, fmt.Errorf("FileExists: %s", key))
			default:
				throw(vm, err)
			}
		}
		handle := vm.NewObject()
		handle.Set("name", key)
		handle.Set("read", func() goja.Value {
			data, err := f.ReadAll()
			if err != nil {
				throw(vm, err)
			}
			if f.Mode().Binary {
				return vm.ToValue(vm.NewArrayBuffer(data))
			}
			return vm.ToValue(string(data))
		})
		handle.Set("write", func(v goja.Value) int {
			var data []byte
			switch exported := v.Export().(type) {
			case string:
				data = []byte(exported)
			case goja.ArrayBuffer:
				data = exported.Bytes()
			case []byte:
				data = exported
			default:
				throw(vm, fmt.Errorf("write expects a string or binary buffer"))
			}
			n, err := f.Write(data)
			if err != nil {
				throw(vm, err)
			}
			return n
		})
		handle.Set("close", func() {
			if err := f.Close(reqCtx); err != nil {
				throw(vm, err)
			}
		})
		return handle
	}
}

func (c *Capabilities) notifyFunc(vm *goja.Runtime, reqCtx context.Context, app *types.Application) func(string, string) {
	return func(subject, message string) {
		if err := c.notifier.Send(reqCtx, app, subject, message); err != nil {
			throw(vm, err)
		}
	}
}

func (c *Capabilities) logFunc(app *types.Application, functionID string) func(string) {
	return func(message string) {
		c.sink.Info(message, app.AppID, functionID, "")
	}
}

// commonNamespace runs every published common function's program in the VM
// and collects the globals each one defines under context.common.<name>.
// The globals are moved off the VM's global object so commons cannot shadow
// each other or the handler.
func (c *Capabilities) commonNamespace(vm *goja.Runtime, commons map[string]*Artifact) (*goja.Object, error) {
	ns := vm.NewObject()
	global := vm.GlobalObject()
	for name, art := range commons {
		before := make(map[string]bool)
		for _, k := range global.Keys() {
			before[k] = true
		}
		if _, err := vm.RunProgram(art.Program); err != nil {
			return nil, fmt.Errorf("common %s failed to load: %w", name, err)
		}
		module := vm.NewObject()
		for _, k := range global.Keys() {
			if before[k] {
				continue
			}
			module.Set(k, global.Get(k))
			if err := global.Delete(k); err != nil {
				return nil, err
			}
		}
		ns.Set(name, module)
	}
	return ns, nil
}
