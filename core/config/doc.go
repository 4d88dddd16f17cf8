// Package config loads typed settings from the environment.
//
// A .env file in the working directory is read once on first use, then
// github.com/caarlos0/env parses `env` and `envDefault` tags. Nested structs
// are walked, so one daemon config can embed the component configs:
//
//	type Config struct {
//		Store   string `env:"MFA_STORE" envDefault:"memory"`
//		AppKey  string `env:"MFA_APP_KEY,required"`
//		MFA     mfa.Config
//		Session session.Config
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Each struct type is parsed once and cached; later loads of the same type
// copy the cached value. Reset clears the cache in tests that change the
// environment.
package config
