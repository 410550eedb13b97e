package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrVerification = errors.New("contract verification failed")

var verifiedPatterns = []string{
	"verification submitted",
	"already been verified",
	"successfully verified contract",
}

// IsVerified reports whether an explorer response means success.
func IsVerified(output string) bool {
	lower := strings.ToLower(output)
	for _, p := range verifiedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// RetryPolicy retries an operation that answers with text, a fixed Delay
// apart, until Succeeded accepts the answer or MaxAttempts is used up.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Succeeded   func(output string) bool

	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultVerifyPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, Succeeded: IsVerified}
}

// Do returns the accepted output. Transport errors count as a failed attempt.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) (string, error)) (string, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for i := 1; i <= attempts; i++ {
		out, err := op(ctx)
		switch {
		case err != nil:
			last = fmt.Errorf("attempt %d: %w", i, err)
		case p.Succeeded == nil || p.Succeeded(out):
			return out, nil
		default:
			last = fmt.Errorf("attempt %d: unexpected response: %s", i, strings.TrimSpace(out))
		}
		slog.Warn("Attempt failed", "attempt", i, "of", attempts, "err", last)

		if i < attempts {
			if err := sleep(ctx, p.Delay); err != nil {
				return "", err
			}
		}
	}
	return "", last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Verifier asks a block explorer to match deployed bytecode against source.
type Verifier interface {
	Verify(ctx context.Context, address common.Address, constructorArgs []string) (string, error)
}

// CommandVerifier shells out to a verification tool, passing the address and
// then the constructor arguments positionally.
type CommandVerifier struct {
	Runner  Runner
	Dir     string
	Command []string
}

func NewCommandVerifier(dir, command string) *CommandVerifier {
	return &CommandVerifier{Runner: ExecRunner{}, Dir: dir, Command: strings.Fields(command)}
}

func (v *CommandVerifier) Verify(ctx context.Context, address common.Address, constructorArgs []string) (string, error) {
	if len(v.Command) == 0 {
		return "", errors.New("no verify command configured")
	}
	args := append(append(append([]string(nil), v.Command[1:]...), address.Hex()), constructorArgs...)
	out, err := v.Runner.Run(ctx, v.Dir, v.Command[0], args...)
	if err != nil {
		// the tool exits non-zero for "already verified" too
		if IsVerified(out) {
			return out, nil
		}
		return out, fmt.Errorf("%v: %s", err, strings.TrimSpace(out))
	}
	return out, nil
}
