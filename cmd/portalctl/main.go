// Command portalctl is a terminal client for the account portal API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"go-account-portal/pkg/authclient"
)

const usage = `Usage: portalctl [flags] <command> [args]

Commands:
  register              create an account and log in
  login                 log in with email and password
  logout                revoke the current session
  logout --force        discard local state without contacting the server
  whoami                show the current user
  sessions              list active sessions
  revoke <session-id>   revoke one of your sessions
  passwd                change password (logs out all sessions)

Flags:
  -server URL           portal base URL (default http://localhost:8080,
                        or PORTAL_SERVER)
`

func main() {
	serverURL := flag.String("server", defaultServer(), "portal base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client, err := newClient(*serverURL)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, client, args); err != nil {
		if errors.Is(err, authclient.ErrReAuthRequired) {
			fmt.Fprintln(os.Stderr, "not logged in; run: portalctl login")
			os.Exit(1)
		}
		fatal(err)
	}
}

func run(ctx context.Context, client *authclient.Client, args []string) error {
	switch args[0] {
	case "register":
		return cmdRegister(ctx, client)
	case "login":
		return cmdLogin(ctx, client)
	case "logout":
		if len(args) > 1 && args[1] == "--force" {
			if err := client.ForceLogout(); err != nil {
				return err
			}
			fmt.Println("local session discarded")
			return nil
		}
		return cmdLogout(ctx, client)
	case "whoami":
		return cmdWhoami(ctx, client)
	case "sessions":
		return cmdSessions(ctx, client)
	case "revoke":
		if len(args) < 2 {
			return fmt.Errorf("usage: portalctl revoke <session-id>")
		}
		return cmdRevoke(ctx, client, args[1])
	case "passwd":
		return cmdPasswd(ctx, client)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newClient(serverURL string) (*authclient.Client, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}

	client, err := authclient.New(authclient.Config{
		BaseURL:   serverURL,
		StatePath: filepath.Join(home, ".portalctl", "state.json"),
	})
	if err != nil {
		return nil, err
	}

	// Missing state is fine here; commands that need a session surface
	// ErrReAuthRequired themselves.
	if _, err := client.Rehydrate(); err != nil && !errors.Is(err, authclient.ErrReAuthRequired) {
		return nil, err
	}

	return client, nil
}

func cmdRegister(ctx context.Context, client *authclient.Client) error {
	email, err := promptLine("Email: ")
	if err != nil {
		return err
	}
	displayName, err := promptLine("Display name (optional): ")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	user, err := client.Register(ctx, email, password, displayName)
	if err != nil {
		return err
	}

	fmt.Printf("registered and logged in as %s\n", user.Email)
	return nil
}

func cmdLogin(ctx context.Context, client *authclient.Client) error {
	email, err := promptLine("Email: ")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	fmt.Printf("logged in as %s\n", user.Email)
	return nil
}

func cmdLogout(ctx context.Context, client *authclient.Client) error {
	if err := client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w (local session was discarded)", err)
	}

	fmt.Println("logged out")
	return nil
}

func cmdWhoami(ctx context.Context, client *authclient.Client) error {
	var user struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	}
	if err := client.Do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &user); err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", user.Email, user.Role)
	if user.DisplayName != "" {
		fmt.Printf("display name: %s\n", user.DisplayName)
	}
	fmt.Printf("id: %s\n", user.ID)
	return nil
}

func cmdSessions(ctx context.Context, client *authclient.Client) error {
	var sessions []struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := client.Do(ctx, http.MethodGet, "/api/v1/auth/sessions", nil, &sessions); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tCREATED\tEXPIRES")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			s.ID,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdRevoke(ctx context.Context, client *authclient.Client, sessionID string) error {
	path := "/api/v1/auth/sessions/" + sessionID
	if err := client.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}

	fmt.Printf("session %s revoked\n", sessionID)
	return nil
}

func cmdPasswd(ctx context.Context, client *authclient.Client) error {
	current, err := promptPassword("Current password: ")
	if err != nil {
		return err
	}
	next, err := promptPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm new password: ")
	if err != nil {
		return err
	}
	if next != confirm {
		return fmt.Errorf("passwords do not match")
	}

	body := map[string]string{"current_password": current, "new_password": next}
	if err := client.Do(ctx, http.MethodPatch, "/api/v1/auth/change-password", body, nil); err != nil {
		return err
	}

	// The server revokes every session on password change, this client's
	// included.
	if err := client.ForceLogout(); err != nil {
		return err
	}

	fmt.Println("password changed; all sessions were logged out, please log in again")
	return nil
}

func promptLine(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}

func defaultServer() string {
	if v := os.Getenv("PORTAL_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
