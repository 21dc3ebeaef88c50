package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tillerlabs/tiller/pkg/identity"
)

// runTokenCmd implements `tiller token`.
//
// Mints a signed bearer token for calling the governance API. The signing
// secret comes from TOKEN_SECRET, the same variable the server reads, so a
// minted token works against the server it shares an environment with.
//
// Exit codes:
//
//	0 = token printed to stdout
//	2 = runtime error
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		ptype   string
		podID   string
		roles   string
		ttl     time.Duration
	)

	cmd.StringVar(&subject, "subject", "", "Principal subject (REQUIRED)")
	cmd.StringVar(&ptype, "type", "POD", "Principal type: HUMAN or POD")
	cmd.StringVar(&podID, "pod", "", "Pod ID for POD principals")
	cmd.StringVar(&roles, "roles", "", "Comma-separated roles")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if subject == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --subject is required")
		return 2
	}

	var principalType identity.PrincipalType
	switch strings.ToUpper(ptype) {
	case "HUMAN":
		principalType = identity.PrincipalHuman
	case "POD":
		principalType = identity.PrincipalPod
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown principal type %q\n", ptype)
		return 2
	}

	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: TOKEN_SECRET is not set")
		return 2
	}

	tm, err := identity.NewTokenManager([]byte(secret))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	p := identity.Principal{Subject: subject, Type: principalType, PodID: podID}
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			p.Roles = append(p.Roles, r)
		}
	}

	token, err := tm.Issue(p, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
