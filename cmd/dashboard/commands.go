package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/utafrali/EstateDesk/internal/app"
	"github.com/utafrali/EstateDesk/internal/authstate"
	"github.com/utafrali/EstateDesk/internal/domain"
	"github.com/utafrali/EstateDesk/pkg/pagination"
)

var (
	errUsage     = errors.New("usage")
	errSignedOut = errors.New("not signed in, run: dashboard login")
)

// passwordEnv supplies the password when -password is not given.
const passwordEnv = "ESTATEDESK_PASSWORD"

type env struct {
	dashboard *app.Dashboard
	out       io.Writer
	errOut    io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"login":   {"sign in with email and password", login},
	"signup":  {"create an account and sign in", signup},
	"logout":  {"sign out and erase stored credentials", logout},
	"status":  {"validate the stored session and show who is signed in", status},
	"refresh": {"renew the access token now", refresh},
	"get":     {"GET an API path with the session, e.g. get /leads", get},
	"watch":   {"print session state changes until interrupted", watch},
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: dashboard <command> [flags]")
	fmt.Fprintln(w)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}

func newFlags(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return nil
}

func password(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(passwordEnv)
}

func login(ctx context.Context, e *env, args []string) error {
	fs := newFlags("login", e)
	email := fs.String("email", "", "account email")
	pass := fs.String("password", "", "account password (default $"+passwordEnv+")")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || password(*pass) == "" {
		return fmt.Errorf("%w: -email and a password are required", errUsage)
	}

	user, err := e.dashboard.Session().Login(ctx, *email, password(*pass))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "signed in as %s\n", user.Email)
	return nil
}

func signup(ctx context.Context, e *env, args []string) error {
	fs := newFlags("signup", e)
	var in domain.SignupInput
	fs.StringVar(&in.FirstName, "first-name", "", "first name")
	fs.StringVar(&in.LastName, "last-name", "", "last name")
	fs.StringVar(&in.Email, "email", "", "account email")
	fs.StringVar(&in.PhoneNumber, "phone", "", "phone number")
	fs.StringVar(&in.AccountType, "account-type", domain.AccountTypeIndividual, "individual or organization")
	fs.StringVar(&in.Company, "company", "", "company name, organization accounts only")
	pass := fs.String("password", "", "account password (default $"+passwordEnv+")")
	if err := parse(fs, args); err != nil {
		return err
	}
	in.Password = password(*pass)
	if in.Email == "" || in.Password == "" {
		return fmt.Errorf("%w: -email and a password are required", errUsage)
	}

	user, err := e.dashboard.Session().Signup(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "account created, signed in as %s\n", user.Email)
	return nil
}

func logout(ctx context.Context, e *env, _ []string) error {
	e.dashboard.Session().Logout(ctx)
	fmt.Fprintln(e.out, "signed out")
	return nil
}

func status(ctx context.Context, e *env, _ []string) error {
	state := e.dashboard.Session().Bootstrap(ctx)
	return printState(e.out, state)
}

// refresh renews the stored session. Bootstrap validates a stored session
// with a refresh of its own, so its tokens are the renewed ones.
func refresh(ctx context.Context, e *env, _ []string) error {
	state := e.dashboard.Session().Bootstrap(ctx)
	if !state.Authenticated() {
		return errSignedOut
	}
	fmt.Fprintf(e.out, "access token renewed, valid until %s\n", state.Tokens.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func get(ctx context.Context, e *env, args []string) error {
	fs := newFlags("get", e)
	query := fs.String("query", "", "query string, e.g. stage=new")
	page := fs.Int("page", 0, "page of a list endpoint")
	perPage := fs.Int("per-page", 0, "page size of a list endpoint")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 || !strings.HasPrefix(fs.Arg(0), "/") {
		return fmt.Errorf("%w: get takes one API path starting with /", errUsage)
	}
	values, err := url.ParseQuery(*query)
	if err != nil {
		return fmt.Errorf("%w: -query: %w", errUsage, err)
	}
	if *page > 0 || *perPage > 0 {
		p := pagination.Params{Page: max(*page, 1), PerPage: *perPage}
		if p.PerPage <= 0 {
			p.PerPage = pagination.DefaultPerPage
		}
		for k, v := range p.Values() {
			values[k] = v
		}
	}

	if !e.dashboard.Session().Bootstrap(ctx).Authenticated() {
		return errSignedOut
	}

	var out json.RawMessage
	if err := e.dashboard.API().Get(ctx, fs.Arg(0), values, &out); err != nil {
		return err
	}
	return writeJSON(e.out, out)
}

func watch(ctx context.Context, e *env, _ []string) error {
	s := e.dashboard.Session()
	unsubscribe := s.State().Subscribe(func(state authstate.State) {
		_ = printState(e.out, state)
	})
	defer unsubscribe()

	if !s.Bootstrap(ctx).Authenticated() {
		return errSignedOut
	}
	<-ctx.Done()
	return nil
}

type stateView struct {
	Status    authstate.Status `json:"status"`
	User      *domain.User     `json:"user,omitempty"`
	ExpiresAt *time.Time       `json:"accessTokenExpiresAt,omitempty"`
}

func printState(w io.Writer, s authstate.State) error {
	v := stateView{Status: s.Status(), User: s.User}
	if s.Tokens != nil && !s.Tokens.ExpiresAt.IsZero() {
		v.ExpiresAt = &s.Tokens.ExpiresAt
	}
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
