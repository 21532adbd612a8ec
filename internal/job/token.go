package job

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

var (
	// ErrInvalidToken is returned for strings that are not job tokens.
	ErrInvalidToken = errors.New("invalid job token")
	// ErrNotFound is returned when no job exists for a token.
	ErrNotFound = errors.New("job not found")
	// ErrNoActiveProcess is returned when a job has no running process.
	ErrNoActiveProcess = errors.New("no active process")
	// ErrIllegalPID is returned when the pid file holds a value that cannot
	// be a job process.
	ErrIllegalPID = errors.New("illegal pid")
)

// Token names a background job. It has the form xxxx-xxxx-xxxx-xxxx in
// lowercase hex.
type Token string

// NewToken returns a fresh random token.
func NewToken() Token {
	sum := utils.NewHasher(utils.SHA1).HashString(uuid.NewString())
	return Token(sum[0:4] + "-" + sum[4:8] + "-" + sum[8:12] + "-" + sum[12:16])
}

// ParseToken validates s.
func ParseToken(s string) (Token, error) {
	if err := utils.ValidateToken(s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	return Token(s), nil
}

func (t Token) String() string {
	return string(t)
}
