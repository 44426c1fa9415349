package stamp

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

type requestIDKey struct{}

// WithRequestID tags ctx so every log line for the command carries the id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func logger(ctx context.Context) *log.Logger {
	if id := RequestID(ctx); id != "" {
		return utils.L().With("request_id", id)
	}
	return utils.L()
}
