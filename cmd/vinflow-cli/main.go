package main

import (
	"context"

	"vinflow-backend/cmd/vinflow-cli/commands"
	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/util/serviceutil"
)

func main() {
	ctx := context.Background()
	telemetry.InitSlog(false)
	err := telemetry.SetupFromEnv(ctx, "vinflow-cli")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	defer telemetry.Shutdown(ctx)
	commands.ExecuteContext(ctx)
}
