package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"go-session-client/internal/model"
)

func newLoginCommand(rt *cliState) *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			var err error
			if email == "" {
				if email, err = ask(in, cmd.ErrOrStderr(), "email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = ask(in, cmd.ErrOrStderr(), "password: "); err != nil {
					return err
				}
			}

			s, err := rt.client.Auth.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", s.Email, s.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when empty)")
	return cmd
}

func newLogoutCommand(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session and biometric binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt.client.Auth.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCommand(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the current profile from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := rt.client.Auth.Profile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), profile)
		},
	}
}

func newGetCommand(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Issue an authorized GET against the backend and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := rt.client.API.Call(cmd.Context(), http.MethodGet, args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newBiometricCommand(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "biometric",
		Short: "Biometric unlock operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show hardware, enrollment and local preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b := rt.client.Biometrics
			return printJSON(cmd.OutOrStdout(), map[string]bool{
				"hardwareAvailable": b.IsBiometricHardwareAvailable(ctx),
				"enrolled":          b.IsBiometricEnrolled(ctx),
				"enabled":           b.IsEnabled(ctx),
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Bind the current refresh token to a biometric prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			current, ok := rt.client.Sessions.Current(ctx)
			if !ok {
				return model.ErrNoSession
			}

			enabled, err := rt.client.Biometrics.EnableBiometrics(ctx, current)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "biometrics enabled: %t\n", enabled)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Remove the biometric binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.client.Biometrics.DisableBiometrics(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "biometrics disabled")
			return nil
		},
	})

	var promptMessage string
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Restore a session with the biometric-bound refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt.client.Biometrics.SignInWithBiometricRefresh(cmd.Context(), promptMessage)
			if errors.Is(err, model.ErrMissingBiometricToken) {
				return fmt.Errorf("%w: sign in with a password first", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked as %s (%s)\n", s.Email, s.ID)
			return nil
		},
	}
	unlock.Flags().StringVar(&promptMessage, "message", "", "Prompt shown by the biometric device")
	cmd.AddCommand(unlock)

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Refresh the local preference from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := rt.client.Biometrics.SyncSettings(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "biometrics enabled: %t\n", enabled)
			return nil
		},
	})

	return cmd
}

func ask(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
