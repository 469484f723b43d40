// Package secretsource supplies new secret values for set-new rotations.
//
// Providers return secrets sealed in secure buffers; plaintext never
// appears in logs or outcome records, and the rotation machine destroys
// the buffer as soon as the apply stage finishes.
package secretsource

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/systmms/svcrotate/internal/directory"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/secure"
)

// Provider obtains the new secret for one account. Not invoked in
// adopt-existing mode.
type Provider interface {
	Obtain(ctx context.Context, account directory.ManagedAccount) (*secure.Buffer, error)
}

// Policy is the secret-strength policy applied to every supplied value.
type Policy struct {
	MinLength int
}

// Check validates a candidate value. Blank is EmptySecret; shorter than
// MinLength is WeakSecret. Both are per-account failures.
func (p Policy) Check(account string, value string) error {
	if strings.TrimSpace(value) == "" {
		return svcerrors.E(svcerrors.KindEmptySecret, account, nil)
	}
	if len(value) < p.MinLength {
		return svcerrors.E(svcerrors.KindWeakSecret, account,
			fmt.Errorf("length %d below minimum %d", len(value), p.MinLength))
	}
	return nil
}

const generatorCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_=+"

// Generator produces random secrets from crypto/rand.
type Generator struct {
	Policy Policy
	Length int
}

// NewGenerator builds a generator producing values comfortably above the
// policy minimum.
func NewGenerator(policy Policy) *Generator {
	length := 24
	if policy.MinLength > length {
		length = policy.MinLength
	}
	return &Generator{Policy: policy, Length: length}
}

// Obtain generates a fresh random value for the account.
func (g *Generator) Obtain(ctx context.Context, account directory.ManagedAccount) (*secure.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value := make([]byte, g.Length)
	max := big.NewInt(int64(len(generatorCharset)))
	for i := range value {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("generating random value: %w", err)
		}
		value[i] = generatorCharset[n.Int64()]
	}

	if err := g.Policy.Check(account.Identifier, string(value)); err != nil {
		return nil, err
	}
	return secure.NewBuffer(value), nil
}

// Static supplies one injected value for every account. Used for
// --secret-stdin and in tests.
type Static struct {
	Policy Policy
	Value  string
}

// Obtain validates and seals the injected value.
func (s *Static) Obtain(ctx context.Context, account directory.ManagedAccount) (*secure.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Policy.Check(account.Identifier, s.Value); err != nil {
		return nil, err
	}
	return secure.NewBufferFromString(s.Value), nil
}

// Prompt reads one secret per account from a shared buffered reader,
// prompting on the writer. When the reader is also consumed by a
// confirmation prompt, Mu must be the same mutex guarding that prompt;
// every read of the shared reader happens under it.
type Prompt struct {
	Policy Policy
	Reader *bufio.Reader
	Out    io.Writer
	Mu     *sync.Mutex
}

// Obtain prompts for and validates the account's new secret.
func (p *Prompt) Obtain(ctx context.Context, account directory.ManagedAccount) (*secure.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.Mu != nil {
		p.Mu.Lock()
		defer p.Mu.Unlock()
	}

	fmt.Fprintf(p.Out, "New secret for %s: ", account.Identifier)
	line, err := p.Reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, svcerrors.E(svcerrors.KindEmptySecret, account.Identifier, err)
	}
	value := strings.TrimRight(line, "\r\n")

	if err := p.Policy.Check(account.Identifier, value); err != nil {
		return nil, err
	}
	return secure.NewBufferFromString(value), nil
}
