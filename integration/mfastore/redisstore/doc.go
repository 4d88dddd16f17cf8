// Package redisstore implements mfa.Store on Redis.
//
// Backup-code consumption and credential updates run as Lua scripts, so a code
// is spent once even when several service instances share the server.
// Enrollment writes the credential and codes in one MULTI/EXEC.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store := redisstore.New(client, redisstore.WithKeyPrefix("crm:mfa:"))
package redisstore
