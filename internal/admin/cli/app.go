// Package cli is the operator tool for staff accounts: it creates users and
// resets passwords directly against the database.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/jambasimaging/bizdesk/internal/cryptox"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/services"
)

// UserAdmin is the account service the tool drives.
type UserAdmin interface {
	CreateUser(ctx context.Context, in services.NewUser) (*models.User, error)
	SetPassword(ctx context.Context, email, password string) error
}

// ErrUsage is returned for unknown commands and bad flags.
var ErrUsage = errors.New("usage error")

const usage = `Usage: bizdesk-admin <command> [flags]

Commands:
  create-user   -email addr -name "Full Name" -role role [-superuser] [-generate]
  set-password  -email addr [-generate]

Roles: admin, manager, sales, store, accountant, managing_director.
With -generate a random password is printed instead of prompting.
`

const generatedPasswordBytes = 12

type App struct {
	users UserAdmin
	in    *bufio.Reader
	out   io.Writer
}

func NewApp(users UserAdmin, in io.Reader, out io.Writer) *App {
	return &App{users: users, in: bufio.NewReader(in), out: out}
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}

	switch args[0] {
	case "create-user":
		return a.createUser(ctx, args[1:])
	case "set-password":
		return a.setPassword(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprintf(a.out, "unknown command %q\n\n%s", args[0], usage)
		return ErrUsage
	}
}

func (a *App) password(generate bool) (string, error) {
	if generate {
		return cryptox.MakeRandHexString(generatedPasswordBytes)
	}
	return GetNewPassword(a.out)
}

func (a *App) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "login email")
	name := fs.String("name", "", "full name")
	role := fs.String("role", "", "staff role")
	superuser := fs.Bool("superuser", false, "grant every capability")
	generate := fs.Bool("generate", false, "generate a random password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	var err error
	if *email == "" {
		if *email, err = GetSimpleText(a.in, "Email", a.out); err != nil {
			return err
		}
	}
	if *name == "" {
		if *name, err = GetSimpleText(a.in, "Full name", a.out); err != nil {
			return err
		}
	}
	if *role == "" {
		if *role, err = GetSimpleText(a.in, "Role", a.out); err != nil {
			return err
		}
	}

	pw, err := a.password(*generate)
	if err != nil {
		return err
	}

	u, err := a.users.CreateUser(ctx, services.NewUser{
		Email:     *email,
		FullName:  *name,
		Role:      models.Role(*role),
		Password:  pw,
		Superuser: *superuser,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Created user %d <%s> with role %s\n", u.ID, u.Email, u.Role)
	if *generate {
		fmt.Fprintf(a.out, "Password: %s\n", pw)
	}
	return nil
}

func (a *App) setPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "login email")
	generate := fs.Bool("generate", false, "generate a random password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	var err error
	if *email == "" {
		if *email, err = GetSimpleText(a.in, "Email", a.out); err != nil {
			return err
		}
	}

	pw, err := a.password(*generate)
	if err != nil {
		return err
	}
	if err := a.users.SetPassword(ctx, *email, pw); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Password updated for %s\n", *email)
	if *generate {
		fmt.Fprintf(a.out, "Password: %s\n", pw)
	}
	return nil
}
