package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"letterdrop/internal/config"
	"letterdrop/internal/external"
)

// newEmailProvider builds the configured outbound email provider.
//
// "ses" authenticates via the ambient AWS credential chain (IAM role, env
// vars, shared config). "sendgrid" requires SENDGRID_API_KEY. "stub" logs
// instead of sending and is rejected in prod by config validation.
func newEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (external.EmailProvider, error) {
	switch cfg.Email.Provider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Email.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return external.NewSESClient(awsCfg, external.SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigSet,
			Logger:        logger,
		}), nil
	case "sendgrid":
		return external.NewSendGridClient(http.DefaultClient, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger,
		}), nil
	case "stub":
		return external.NewStubEmailProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}
