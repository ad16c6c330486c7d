// Package credential implements the Credential Guard: it validates a
// user-supplied private account before accepting it, and stores
// validated credentials for later use by the connection pool.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/cybergis/compute-supervisor/internal/secretstore"
	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// gracePeriod is added on top of a job's configured max walltime when
// computing a credential's TTL, so a slow teardown doesn't race the
// secret's expiry.
const gracePeriod = 15 * time.Minute

// Guard validates and stores private-account credentials.
type Guard struct {
	secrets    secretstore.Store
	newSession func() shell.Session
}

// New builds a Guard. newSession constructs a throwaway Session used
// only for validation; defaults to shell.New.
func New(secrets secretstore.Store, newSession func() shell.Session) *Guard {
	if newSession == nil {
		newSession = func() shell.Session { return shell.New() }
	}
	return &Guard{secrets: secrets, newSession: newSession}
}

// ValidatePrivateAccount opens a throwaway session against hpc with the
// given credentials, runs a no-op command, and disposes it. A non-nil
// error means the credentials are unusable for this cluster.
func (g *Guard) ValidatePrivateAccount(ctx context.Context, hpc types.HPCConfig, user, password string) error {
	sess := g.newSession()
	defer sess.Dispose()

	cfg := shell.Config{Host: hpc.IP, Port: hpc.Port, User: user, Password: password}
	if err := sess.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("credential: validate against %s: %w", hpc.Name, err)
	}
	if _, err := sess.Exec(ctx, "echo ok"); err != nil {
		return fmt.Errorf("credential: validation command failed on %s: %w", hpc.Name, err)
	}
	return nil
}

// Register stores a validated credential with a TTL derived from the
// job's configured max walltime plus a grace period, returning the
// opaque id the job record should carry as CredentialID.
func (g *Guard) Register(ctx context.Context, user, password string, maxWalltime time.Duration) (string, error) {
	cred := types.Credential{User: user, Password: password}
	ttl := maxWalltime + gracePeriod
	id, err := g.secrets.Put(ctx, cred, ttl)
	if err != nil {
		return "", fmt.Errorf("credential: register: %w", err)
	}
	return id, nil
}
