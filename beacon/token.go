package beacon

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// TokenLen is the number of hex characters in a generated token.
const TokenLen = 16

const randomAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// TokenInfo describes one generated token.
type TokenInfo struct {
	Token     string
	SessionID string
	Timestamp time.Time
}

// GenerateToken derives a fresh short token for an attendance session:
// the first 16 hex chars of sha256("{session}-{unix millis}-{random}").
func GenerateToken(sessionID string) (TokenInfo, error) {
	return generateToken(sessionID, time.Now())
}

func generateToken(sessionID string, now time.Time) (TokenInfo, error) {
	nonce, err := randomString(13)
	if err != nil {
		return TokenInfo{}, err
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%s", sessionID, now.UnixMilli(), nonce)))
	return TokenInfo{
		Token:     hex.EncodeToString(sum[:])[:TokenLen],
		SessionID: sessionID,
		Timestamp: now,
	}, nil
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(randomAlphabet)))
	for i := range buf {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "read random")
		}
		buf[i] = randomAlphabet[v.Int64()]
	}
	return string(buf), nil
}
