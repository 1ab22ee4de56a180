// ABOUTME: mirmod subcommand implementations
// ABOUTME: Cookie decode/verify/mint run offline; the rest open a security context

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mirmod/internal/auth"
	"github.com/2389/mirmod/internal/claimcache"
	"github.com/2389/mirmod/internal/directory"
	"github.com/2389/mirmod/internal/hashcookie"
)

// cmdWhoami resolves and prints the session identity.
func cmdWhoami(ctx context.Context, args []string) error {
	p, err := parseArgs(args)
	if err != nil {
		return err
	}
	sc, err := openSession(ctx, p)
	if err != nil {
		return err
	}
	defer sc.Close()

	id, err := sc.RenewID(ctx)
	if err != nil {
		return fmt.Errorf("renewing identity: %w", err)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	fmt.Fprintln(stdout)
	cyan.Fprintln(stdout, "  Identity")
	cyan.Fprintln(stdout, "  --------")
	fmt.Fprintf(stdout, "  Principal:   %s\n", sc.Principal())
	if sc.IsAdmin() {
		green.Fprintf(stdout, "  User ID:     (admin)\n")
	} else {
		fmt.Fprintf(stdout, "  User ID:     %d\n", id)
	}
	fmt.Fprintf(stdout, "  Proxy:       %t\n", sc.IsProxy())
	fmt.Fprintf(stdout, "  Session:     %s\n", sc.ID())
	fmt.Fprintln(stdout)
	return nil
}

// cmdDecode prints the outer layer of a cookie. Nothing is verified.
func cmdDecode(args []string) error {
	p, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(p.positional) != 1 {
		return fmt.Errorf("usage: decode <cookie>")
	}

	payload, err := hashcookie.Parse(p.positional[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(stdout)
	cyan.Fprintln(stdout, "  Cookie (unverified)")
	cyan.Fprintln(stdout, "  -------------------")
	fmt.Fprintf(stdout, "  Subject:     %s\n", payload.Subject)
	fmt.Fprintf(stdout, "  Expires:     %s (%d)\n", time.Unix(payload.Expiry, 0).UTC().Format(time.RFC3339), payload.Expiry)
	fmt.Fprintf(stdout, "  Body:        %d bytes\n", len(payload.Body))
	if payload.HasNonce() {
		fmt.Fprintf(stdout, "  Nonce:       %s\n", hex.EncodeToString(payload.Nonce))
	} else {
		yellow.Fprintln(stdout, "  Nonce:       (none, not an encrypted cookie)")
	}
	fmt.Fprintln(stdout)
	return nil
}

// cmdVerify verifies a cookie, either offline with --secret/--salt or
// against the user directory through an admin context.
func cmdVerify(ctx context.Context, args []string) error {
	p, err := parseArgs(args, "--secret", "--salt")
	if err != nil {
		return err
	}
	if len(p.positional) != 1 {
		return fmt.Errorf("usage: verify <cookie> [--secret <hex> --salt <hex>]")
	}
	raw := p.positional[0]

	secret, hasSecret := p.values["--secret"]
	salt, hasSalt := p.values["--salt"]
	if hasSecret != hasSalt {
		return fmt.Errorf("--secret and --salt must be given together")
	}

	var authCtx *auth.AuthContext
	if hasSecret {
		subject, err := hashcookie.Peek(raw)
		if err != nil {
			return err
		}
		claim, err := hashcookie.NewAuthenticator().Authenticate(raw, hashcookie.KnownUser{
			Subject:   subject,
			HexSecret: secret,
			HexSalt:   salt,
		})
		if err != nil {
			return err
		}
		authCtx = &auth.AuthContext{
			Subject:       claim.Subject,
			UserID:        -1,
			Authorization: claim.Authorization,
			ExpiresAt:     claim.ExpiresAt(),
		}
	} else {
		sc, err := openSession(ctx, p)
		if err != nil {
			return err
		}
		defer sc.Close()
		sc.SetAdmin(true)

		cache := claimcache.New(claimcache.DefaultTTL, claimcache.DefaultMaxSize)
		defer cache.Close()

		verifier := auth.NewCookieVerifier(directory.NewSQLDirectory(sc), hashcookie.NewAuthenticator(), cache)
		authCtx, err = verifier.Verify(ctx, raw)
		if err != nil {
			return err
		}
	}

	printAuthContext(authCtx)
	return nil
}

func printAuthContext(a *auth.AuthContext) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(stdout)
	green.Fprintln(stdout, "  Cookie verified")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  Subject:       %s\n", a.Subject)
	if a.UserID >= 0 {
		fmt.Fprintf(stdout, "  User ID:       %d\n", a.UserID)
		fmt.Fprintf(stdout, "  Organization:  %d\n", a.OrganizationID)
	}
	fmt.Fprintf(stdout, "  Expires:       %s\n", a.ExpiresAt.UTC().Format(time.RFC3339))
	if a.HasAuthorization() {
		fmt.Fprintf(stdout, "  Authorization: %s\n", *a.Authorization)
	} else {
		yellow.Fprintln(stdout, "  Authorization: (none)")
	}
	fmt.Fprintln(stdout)
}

// cmdMint issues a cookie for a subject with known key material.
func cmdMint(args []string) error {
	p, err := parseArgs(args, "--subject", "--secret", "--salt", "--ttl", "--body", "--nonce")
	if err != nil {
		return err
	}

	subject := p.value("--subject", "")
	secret := p.value("--secret", "")
	salt := p.value("--salt", "")
	if subject == "" || secret == "" || salt == "" {
		return fmt.Errorf("usage: mint --subject <user> --secret <hex> --salt <hex> [--ttl 24h] [--body <json>]")
	}

	ttl, err := time.ParseDuration(p.value("--ttl", "24h"))
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}

	var nonce []byte
	if n, ok := p.values["--nonce"]; ok {
		nonce, err = hex.DecodeString(n)
		if err != nil {
			return fmt.Errorf("invalid nonce: %w", err)
		}
	}

	expiry := time.Now().Add(ttl)
	raw, err := hashcookie.Issue(hashcookie.IssueParams{
		Subject:   subject,
		Expiry:    expiry,
		Body:      []byte(p.value("--body", "")),
		HexSecret: secret,
		HexSalt:   salt,
		Nonce:     nonce,
	})
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(stdout)
	color.New(color.FgGreen).Fprintln(stdout, "  Cookie issued")
	fmt.Fprintln(stdout)
	cyan.Fprintln(stdout, "  Subject:  "+subject)
	cyan.Fprintln(stdout, "  Expires:  "+expiry.UTC().Format(time.RFC3339))
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "  "+raw)
	fmt.Fprintln(stdout)
	return nil
}

// cmdWait blocks until the event is signalled or the timeout passes.
func cmdWait(ctx context.Context, args []string) (bool, error) {
	p, err := parseArgs(args, "--timeout")
	if err != nil {
		return false, err
	}
	if len(p.positional) != 1 {
		return false, fmt.Errorf("usage: wait <event> [--timeout <seconds>]")
	}
	timeout, err := strconv.Atoi(p.value("--timeout", "60"))
	if err != nil || timeout < 0 {
		return false, fmt.Errorf("invalid timeout %q", p.value("--timeout", ""))
	}

	sc, err := openSession(ctx, p)
	if err != nil {
		return false, err
	}
	defer sc.Close()

	event := p.positional[0]
	if sc.WaitForEvent(ctx, event, timeout) {
		color.New(color.FgGreen).Fprintf(stdout, "event %s signalled\n", event)
		return true, nil
	}
	color.New(color.FgYellow).Fprintf(stdout, "event %s not signalled within %ds\n", event, timeout)
	return false, nil
}

// cmdExtend renews the proxy account claim.
func cmdExtend(ctx context.Context, args []string) error {
	p, err := parseArgs(args)
	if err != nil {
		return err
	}
	sc, err := openSession(ctx, p)
	if err != nil {
		return err
	}
	defer sc.Close()

	if !sc.IsProxy() {
		return fmt.Errorf("%s is not a proxy account", sc.Principal())
	}
	if err := sc.ExtendProxyClaim(ctx); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(stdout, "claim extended for %s\n", sc.Principal())
	return nil
}

// cmdLog shows one backend log record.
func cmdLog(ctx context.Context, args []string) error {
	p, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(p.positional) != 1 {
		return fmt.Errorf("usage: log <id>")
	}
	id, err := strconv.ParseInt(p.positional[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid log id: %w", err)
	}

	sc, err := openSession(ctx, p)
	if err != nil {
		return err
	}
	defer sc.Close()

	rec, err := sc.ReadLog(ctx, int32(id))
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout)
	color.New(color.FgCyan).Fprintf(stdout, "  Log #%d\n", rec.ID)
	fmt.Fprintf(stdout, "  Created:   %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(stdout, "  Entity:    %s #%d\n", rec.Class, rec.InstanceID)
	fmt.Fprintf(stdout, "  Tag:       %d\n", rec.Tag)
	fmt.Fprintf(stdout, "  Message:   %s\n", rec.Message)
	fmt.Fprintln(stdout)
	return nil
}
