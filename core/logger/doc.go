// Package logger builds slog loggers and provides attribute helpers for
// consistent structured logging across the MFA service.
//
// # Creating Loggers
//
//	log := logger.New(
//		logger.WithProduction("mfad"),
//		logger.WithContextExtractors(requestIDFromContext),
//	)
//
//	dev := logger.New(logger.WithDevelopment("mfad"), logger.WithOutput(os.Stderr))
//
// Components that accept an optional logger fall back to logger.Discard().
//
// # Attribute Helpers
//
// Helpers return an empty slog.Attr for empty input, so they can be passed
// unconditionally:
//
//	log.ErrorContext(ctx, "credential load failed",
//		logger.Component("mfa"),
//		logger.Action("verify"),
//		logger.UserID(userID),
//		logger.Error(err),
//	)
//
// Secrets never go through the logger. Session tokens are logged only through
// Token, which keeps a short prefix for correlation:
//
//	log.InfoContext(ctx, "session created", logger.Token(token))
//	// token=Qm9zZX***
package logger
