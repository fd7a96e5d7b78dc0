package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panyam/possession"
	"github.com/panyam/possession/client"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in with email and password. The password is read from --password,
then POS_PASSWORD, then a line on stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if password == "" {
				password = os.Getenv("POS_PASSWORD")
			}
			if password == "" {
				if password, err = readLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: "); err != nil {
					return err
				}
			}

			res, err := a.session.Login(cmd.Context(), possession.Credentials{Email: email, Password: password})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("login failed: %s", res.Reason)
			}
			return printResult(cmd.OutOrStdout(), flags.jsonOut, res.User, func(w io.Writer) {
				fmt.Fprintf(w, "Logged in as %s (%s)\n", res.User.DisplayName(), res.User.Role)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

// statusView is the JSON shape of "status"
type statusView struct {
	Server        string                  `json:"server"`
	Status        client.Status           `json:"status"`
	User          *possession.UserProfile `json:"user,omitempty"`
	TokenExpires  string                  `json:"tokenExpires,omitempty"`
	LastError     string                  `json:"lastError,omitempty"`
	Authenticated bool                    `json:"authenticated"`
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored and when its token expires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			st := a.session.State()
			view := statusView{
				Server:        a.cfg.BaseURL,
				Status:        st.Status,
				User:          st.User,
				Authenticated: st.Status == client.StatusAuthenticated,
			}
			if st.Tokens != nil {
				if exp, err := possession.DecodeExpiry(st.Tokens.AccessToken); err == nil {
					view.TokenExpires = exp.Local().Format("2006-01-02 15:04:05")
				}
			}
			if st.Err != nil {
				view.LastError = st.Err.Error()
			}

			return printResult(cmd.OutOrStdout(), flags.jsonOut, view, func(w io.Writer) {
				fmt.Fprintf(w, "Server: %s\n", view.Server)
				fmt.Fprintf(w, "Status: %s\n", view.Status)
				if view.User != nil {
					fmt.Fprintf(w, "User:   %s (%s)\n", view.User.DisplayName(), view.User.Role)
				}
				if view.TokenExpires != "" {
					fmt.Fprintf(w, "Token expires: %s\n", view.TokenExpires)
				}
				if view.LastError != "" {
					fmt.Fprintf(w, "Last error: %s\n", view.LastError)
				}
			})
		},
	}
}

func newWhoamiCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			user := a.session.CurrentUser()
			if user == nil {
				return possession.ErrNotAuthenticated
			}
			return printResult(cmd.OutOrStdout(), flags.jsonOut, user, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", user.DisplayName())
				fmt.Fprintf(w, "id:     %s\n", user.ID)
				fmt.Fprintf(w, "role:   %s\n", user.Role)
				if user.TenantID != "" {
					fmt.Fprintf(w, "tenant: %s\n", user.TenantID)
				}
			})
		},
	}
}

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET a business endpoint with the session's token",
		Example: `  possession get /inventory
  possession get /pos/sales --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if !a.session.IsAuthenticated() {
				return errors.New("not logged in, run \"possession login\" first")
			}

			var out json.RawMessage
			if err := a.session.API().Get(cmd.Context(), args[0], &out); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), true, out, nil)
		},
	}
}

// printResult writes v as indented JSON, or calls human when JSON is not wanted
func printResult(w io.Writer, asJSON bool, v any, human func(io.Writer)) error {
	if !asJSON && human != nil {
		human(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLine(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
