// Package admin implements the operator command line: migrations, user
// management, and ingest, status, download and delete for a user's files.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/server"
	"github.com/dmitrijs2005/outofsight/internal/server/storage"
	"github.com/dmitrijs2005/outofsight/internal/server/users"
)

var (
	ErrUsage   = errors.New("usage")
	// ErrNoLinks is returned by link when the blob store cannot presign.
	ErrNoLinks = errors.New("blob store does not support presigned links")
)

const defaultLinkTTL = 15 * time.Minute

const usage = `usage: admin [config flags] <command> [args]

commands:
  migrate                            apply database migrations
  register <nickname> <email>        create a user (password is prompted)
  confirm <token>                    confirm a user's email
  update [-nickname n] [-email e] [-password] <user-id>
                                     change a user's profile (password is prompted)
  disable <user-id>                  soft-disable a user
  ingest <user-id> <path>            encrypt, store and queue a file
  status <file-id>                   show a file's status history
  files <user-id>                    list a user's files
  download <user-id> <file-id> <out> decrypt a file to out
  link <user-id> <file-id> [minutes] presigned URL of the ciphertext
  delete <user-id> <file-id>         delete a processed or failed file
`

// NeedsKeys reports whether cmd encrypts or decrypts and therefore needs the
// root secret.
func NeedsKeys(cmd string) bool {
	return cmd == "ingest" || cmd == "download"
}

type App struct {
	c   *server.Components
	out io.Writer
}

func NewApp(c *server.Components, out io.Writer) *App {
	return &App{c: c, out: out}
}

// Usage prints the command summary.
func (a *App) Usage() {
	fmt.Fprint(a.out, usage)
}

func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, args := args[0], args[1:]
	switch {
	case cmd == "migrate" && len(args) == 0:
		return a.migrate(ctx)
	case cmd == "register" && len(args) == 2:
		return a.register(ctx, args[0], args[1])
	case cmd == "confirm" && len(args) == 1:
		return a.confirm(ctx, args[0])
	case cmd == "update":
		return a.update(ctx, args)
	case cmd == "disable" && len(args) == 1:
		return a.disable(ctx, args[0])
	case cmd == "ingest" && len(args) == 2:
		return a.ingest(ctx, args[0], args[1])
	case cmd == "status" && len(args) == 1:
		return a.status(ctx, args[0])
	case cmd == "files" && len(args) == 1:
		return a.files(ctx, args[0])
	case cmd == "download" && len(args) == 3:
		return a.download(ctx, args[0], args[1], args[2])
	case cmd == "link" && (len(args) == 2 || len(args) == 3):
		ttl := defaultLinkTTL
		if len(args) == 3 {
			m, err := strconv.Atoi(args[2])
			if err != nil || m <= 0 {
				return ErrUsage
			}
			ttl = time.Duration(m) * time.Minute
		}
		return a.link(ctx, args[0], args[1], ttl)
	case cmd == "delete" && len(args) == 2:
		return a.deleteFile(ctx, args[0], args[1])
	default:
		return ErrUsage
	}
}

func (a *App) migrate(ctx context.Context) error {
	if err := a.c.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func (a *App) register(ctx context.Context, nickname, email string) error {
	password, err := GetSecret(a.out, "Enter password: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := a.c.Users.Register(ctx, nickname, email, string(password))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s registered, confirmation sent to %s\n", u.ID, u.Email)
	return nil
}

func (a *App) confirm(ctx context.Context, token string) error {
	u, err := a.c.Users.Confirm(ctx, token)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s confirmed\n", u.ID)
	return nil
}

func (a *App) update(ctx context.Context, args []string) error {
	var changes users.Changes
	var newPassword bool

	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&changes.Nickname, "nickname", "", "new nickname")
	fs.StringVar(&changes.Email, "email", "", "new email")
	fs.BoolVar(&newPassword, "password", false, "prompt for a new password")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return ErrUsage
	}

	if newPassword {
		password, err := GetSecret(a.out, "Enter new password: ")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(password)
		changes.Password = string(password)
	}

	u, err := a.c.Users.Update(ctx, fs.Arg(0), changes)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s updated\n", u.ID)
	if !u.Confirmed {
		fmt.Fprintf(a.out, "confirmation sent to %s\n", u.Email)
	}
	return nil
}

func (a *App) disable(ctx context.Context, userID string) error {
	if err := a.c.Users.Disable(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s disabled\n", userID)
	return nil
}

func (a *App) ingest(ctx context.Context, userID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := a.c.Ingest.Ingest(ctx, userID, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "file %s %s\n", file.ID, file.Status)
	return nil
}

func (a *App) status(ctx context.Context, fileID string) error {
	file, err := a.c.Registry.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	hist, err := a.c.Registry.History(ctx, fileID)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s  %s  %s\n", file.ID, file.Filename, file.Status)
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, h := range hist {
		fmt.Fprintf(w, "  %s\t%s\n", h.Status, h.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func (a *App) files(ctx context.Context, userID string) error {
	list, err := a.c.Registry.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tSTATUS")
	for _, f := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.ID, f.Filename, f.SizeBytes, f.Status)
	}
	return w.Flush()
}

func (a *App) download(ctx context.Context, userID, fileID, out string) error {
	file, plaintext, err := a.c.Ingest.Open(ctx, userID, fileID)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	if err := os.WriteFile(out, plaintext, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s written to %s (%d bytes)\n", file.Filename, out, len(plaintext))
	return nil
}

// link prints a presigned GET URL for the stored ciphertext. The blob is
// useless without the wrapped key, so no root secret is needed.
func (a *App) link(ctx context.Context, userID, fileID string, ttl time.Duration) error {
	linker, ok := a.c.Blobs.(storage.Linker)
	if !ok {
		return ErrNoLinks
	}

	file, err := a.c.Registry.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.UserID != userID || file.DeletedAt != nil {
		return common.ErrorNotFound
	}

	url, err := linker.PresignGet(ctx, file.Location, ttl)
	if err != nil {
		return fmt.Errorf("presign %s: %w", file.Location, err)
	}
	fmt.Fprintln(a.out, url)
	return nil
}

func (a *App) deleteFile(ctx context.Context, userID, fileID string) error {
	if err := a.c.Ingest.Delete(ctx, userID, fileID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "file %s deleted\n", fileID)
	return nil
}
