package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

func loginCmd(app *App) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session for later commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				p, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			user, err := app.auth.Login(cmd.Context(), strings.TrimSpace(email), password)
			if err != nil {
				return err
			}
			name := user.Name
			if name == "" {
				name = user.Email
			}
			fmt.Fprintf(app.out, "Logged in as %s", name)
			if user.IsAdmin() {
				fmt.Fprint(app.out, " (admin)")
			}
			fmt.Fprintln(app.out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, read from stdin when omitted")
	return cmd
}

func registerCmd(app *App) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" || email == "" {
				return errors.New("--name and --email are required")
			}
			if password == "" {
				p, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			if err := app.auth.Register(cmd.Context(), name, strings.TrimSpace(email), password); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "Account created, you can now log in.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "full name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, read from stdin when omitted")
	return cmd
}

func logoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "Logged out.")
			return nil
		},
	}
}

func whoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			user, _ := app.sess.User()
			fmt.Fprintf(app.out, "%s <%s> role=%s\n", user.Name, user.Email, orDash(user.Role))
			if id, err := utils.PeekToken(app.sess.AccessToken()); err == nil && !id.ExpiresAt.IsZero() {
				fmt.Fprintf(app.out, "access token expires %s\n", id.ExpiresAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

// readSecret reads one line.  Input is not masked; pipe it in to keep it
// out of the terminal.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
