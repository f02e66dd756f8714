package port

import "context"

type IdempotencyRepository interface {
	// SetIdempotency claims a key, returns false if it is already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key so the request can be replayed
	ReleaseIdempotency(ctx context.Context, key string) error
}
