package main

import (
	"context"
	"time"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// systemSyncTaskID names the built-in job that sweeps runtime container
// status back onto application documents.
const systemSyncTaskID = "system_sync_runtime_status"

const defaultEndpointCode = `async function handler(context) {
    console.log("function invoked", context.func_id);
    return {
        code: 0,
        msg: "success",
        data: null,
    };
}
`

const defaultCommonCode = `// Functions defined here are reachable from endpoints through
// context.common.<module_name>.<function_name>.
function hello(name) {
    return "hello, " + name;
}
`

// seed installs the system templates and the built-in scheduled jobs on a
// fresh database. Both operations are idempotent across restarts.
func seed(ctx context.Context, st store.Store) error {
	count, err := st.CountSystemTemplates(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		now := time.Now().UTC()
		templates := []*types.FunctionTemplate{
			{
				TemplateID:   types.NewShortID(8),
				Name:         "default_endpoint",
				Kind:         types.TemplateSystem,
				FunctionType: types.FunctionEndpoint,
				Code:         defaultEndpointCode,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			{
				TemplateID:   types.NewShortID(8),
				Name:         "default_common",
				Kind:         types.TemplateSystem,
				FunctionType: types.FunctionCommon,
				Code:         defaultCommonCode,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
		}
		for _, tpl := range templates {
			if err := st.InsertTemplate(ctx, tpl); err != nil && err != store.ErrDuplicate {
				return err
			}
		}
	}

	if _, err := st.GetScheduledTask(ctx, systemSyncTaskID); err == store.ErrNotFound {
		now := time.Now().UTC()
		return st.UpsertScheduledTask(ctx, &types.ScheduledTask{
			TaskID:        systemSyncTaskID,
			Name:          "Sync runtime status",
			Trigger:       types.TriggerInterval,
			TriggerConfig: map[string]interface{}{"seconds": 30},
			Enabled:       true,
			IsSystemTask:  true,
			Description:   "Reconciles recorded application status with observed container state",
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	} else if err != nil {
		return err
	}
	return nil
}
