package external

import (
	"context"
	"fmt"
	"log/slog"

	"letterdrop/internal/types"
)

// StubEmailProvider implements EmailProvider by logging calls and returning
// a fake message ID. It lets the service boot in local/test mode without
// real provider credentials.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Name() string { return "stub" }

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", input.To,
		"subject", input.Subject,
		"from", input.From.Address,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

var _ EmailProvider = (*StubEmailProvider)(nil)
