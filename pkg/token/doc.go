/*
Package token implements the two credential schemes of the storage service.

Static operator tokens are long-lived shared secrets checked against bcrypt
hashes held in configuration. They guard the operator surfaces: move, repack
and the legacy upload/delete endpoints. An unknown token name denies.

Transfer tokens are short-lived HS256-signed JWTs minted by the manager for
one job (audience "storage") or by this service for the completion callback
(audience "manager", issuer "storage"). The Codec fails closed in both
directions when no secret is configured: ingress decoding rejects every
token and callback signing reports ErrNoSecret so the dispatcher can skip
with a warning.

# Usage

	codec := token.NewCodec(cfg.TransferJWTSecret)

	claims, err := codec.Decode(presented, token.AudienceStorage)
	if errors.Is(err, token.ErrInvalidToken) {
		// 403
	}

	signed, err := codec.Sign(&token.TransferClaims{JobID: jobID},
		token.AudienceManager, cfg.CallbackTTL)

	statics := token.NewStatic(cfg.Tokens)
	if !statics.Check(token.TokenManage, presented) {
		// 403
	}
*/
package token
