/*
Package config resolves process configuration from defaults, an optional
YAML file, and environment overrides, in that order.

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Environment keys use the OW_STORAGE_ prefix except for the transfer
variables shared with the manager deployment (TRANSFER_JWT_SECRET,
TRANSFER_CALLBACK_TTL_SECONDS, TRANSFER_MAX_BYTES). Static token hashes
load from the tokens map in YAML or OW_STORAGE_TOKEN_<NAME> variables;
values are bcrypt hashes, never plaintext tokens.

Validate is called once at startup. It fails when the archiver binary is
missing from PATH or the storage root cannot be created; an empty JWT
secret is not fatal here because the token layer fails closed on its own.
*/
package config
