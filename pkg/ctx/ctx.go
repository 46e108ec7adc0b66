package ctx

import (
	"github.com/google/wire"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

// ProviderSet 提供上下文相关的依赖
var ProviderSet = wire.NewSet(ProvideContext, ProvideBaseContext)

// ProvideBaseContext 提供基础 context.Context
func ProvideBaseContext() context.Context {
	return context.Background()
}

// ProvideContext 提供应用上下文
func ProvideContext(baseCtx context.Context, logger *zap.SugaredLogger) *Context {
	return NewContext(baseCtx, logger)
}

// Context is the process-lifetime handle passed as the "global_ctx"
// argument to a processor's Configure/Prepare/Unprepare hooks. It carries
// nothing that is reset between runs; per-run state lives in
// runctx.Context instead.
type Context struct {
	Ctx context.Context
	Log *zap.SugaredLogger
}

func NewContext(ctx context.Context, log *zap.SugaredLogger) *Context {
	return &Context{
		Ctx: ctx,
		Log: log,
	}
}

func (c *Context) ContextIns() context.Context {
	return c.Ctx
}
