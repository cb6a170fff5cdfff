// runner Lambda executes the bundled pipeline when EventBridge reports a
// repository change or a scheduled rule fires.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/stagehand/internal/lambda"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

func handler(ctx context.Context, evt intlambda.TriggerEvent) (intlambda.RunResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.RunResponse{}, err
	}
	return intlambda.HandleTrigger(ctx, d, d.App.Config.Pipeline, evt)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
