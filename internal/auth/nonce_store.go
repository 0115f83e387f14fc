package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisNoncePrefix = "auth:nonce:"

var ErrNonceInvalid = errors.New("sign-in nonce is unknown, expired or already used")

// Challenge is what a wallet has to sign.
type Challenge struct {
	Nonce    string    `json:"nonce"`
	Message  string    `json:"message"`
	IssuedAt time.Time `json:"issued_at"`
}

// NonceStore keeps one outstanding sign-in challenge per address in Redis.
type NonceStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	domain  string
	chainID int64
}

func NewNonceStore(rdb *redis.Client, ttl time.Duration, domain string, chainID int64) *NonceStore {
	return &NonceStore{rdb: rdb, ttl: ttl, domain: domain, chainID: chainID}
}

// Issue replaces any outstanding challenge for address.
func (s *NonceStore) Issue(ctx context.Context, address common.Address) (*Challenge, error) {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	issuedAt := time.Now().UTC().Truncate(time.Second)
	ch := &Challenge{
		Nonce:    nonce,
		IssuedAt: issuedAt,
		Message:  SignInMessage(s.domain, address, s.chainID, nonce, issuedAt),
	}
	if err := s.rdb.Set(ctx, nonceKey(address), ch.Message, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store nonce: %w", err)
	}
	return ch, nil
}

// Verify consumes the outstanding challenge for address and checks the
// signature over it. A challenge can be used once, even when the signature
// turns out to be wrong.
func (s *NonceStore) Verify(ctx context.Context, address common.Address, message, signature string) error {
	stored, err := s.rdb.GetDel(ctx, nonceKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNonceInvalid
	}
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(message)) != 1 {
		return ErrNonceInvalid
	}
	return VerifySignature(message, signature, address)
}

func nonceKey(address common.Address) string {
	return redisNoncePrefix + strings.ToLower(address.Hex())
}
