package login

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"
)

const codeSpace = 1_000_000

// Challenges holds the pending one-time codes, keyed by email.
//
// An unexpired code is handed out again unchanged. Expired entries are
// dropped on the next access; nothing runs in the background.
type Challenges struct {
	ttl  time.Duration
	now  func() time.Time
	rand io.Reader

	mu      sync.Mutex
	byEmail map[string]challenge
}

type challenge struct {
	code    string
	expires time.Time
}

// ChallengeOption configures Challenges.
type ChallengeOption func(*Challenges)

// WithChallengeClock overrides the time source (tests).
func WithChallengeClock(now func() time.Time) ChallengeOption {
	return func(c *Challenges) {
		if now != nil {
			c.now = now
		}
	}
}

// WithChallengeRand overrides the randomness source (tests).
func WithChallengeRand(r io.Reader) ChallengeOption {
	return func(c *Challenges) {
		if r != nil {
			c.rand = r
		}
	}
}

// NewChallenges constructs an empty store whose codes live for ttl.
func NewChallenges(ttl time.Duration, opts ...ChallengeOption) *Challenges {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &Challenges{
		ttl:     ttl,
		now:     time.Now,
		rand:    rand.Reader,
		byEmail: make(map[string]challenge),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Issue returns the pending code for email, creating one if none is live.
// fresh is true when the code was just created and still has to be mailed.
func (c *Challenges) Issue(email string) (code string, fresh bool, err error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ch := range c.byEmail {
		if !now.Before(ch.expires) {
			delete(c.byEmail, k)
		}
	}

	if ch, ok := c.byEmail[email]; ok {
		return ch.code, false, nil
	}

	n, err := rand.Int(c.rand, big.NewInt(codeSpace))
	if err != nil {
		return "", false, fmt.Errorf("login: generate code: %w", err)
	}
	code = fmt.Sprintf("%06d", n.Int64())
	c.byEmail[email] = challenge{code: code, expires: now.Add(c.ttl)}
	return code, true, nil
}

// Len returns the number of stored challenges, expired ones included.
func (c *Challenges) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byEmail)
}
