package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fiffu/feedbucket/app"
	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib"
	"github.com/fiffu/feedbucket/lib/scheduler"
	"github.com/fiffu/feedbucket/lib/store"
	"github.com/fiffu/feedbucket/senders"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func NewRefreshFunc(coord *lib.Coordinator) scheduler.RefreshFunc {
	return coord.RefreshOne
}

func registerScheduler(lc fx.Lifecycle, sched *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: sched.Start,
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			return nil
		},
	})
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(store.NewStore),
		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(lib.NewFetcher),
		fx.Provide(lib.NewDeduper),
		fx.Provide(lib.NewCoordinator),
		fx.Provide(NewRefreshFunc),
		fx.Provide(scheduler.New),
		fx.Provide(lib.NewAssembler),
		fx.Provide(lib.NewService),

		fx.Provide(app.NewCommands),
		fx.Provide(app.NewAPI),

		fx.Invoke(registerScheduler),
		fx.Invoke(func(*http.Server) {}),
	).Run()
}
