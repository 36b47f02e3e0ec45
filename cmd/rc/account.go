package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/roster/auth"
	"github.com/rollcall-dev/rollcall/internal/roster/mirror/cloudstore"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	GroupID: "advanced",
	Short:   "Manage class representative accounts (Firestore projects only)",
}

var accountSignupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a class representative account",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			var err error
			if password, err = readPassword("Password: "); err != nil {
				fatalf("%v", err)
			}
		}

		withAuth(func(ctx context.Context, svc *auth.Service) {
			reportAuth(svc.SignUp(ctx, name, email, password))
		})
	},
}

var accountLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check a Firebase ID token and show the account profile",
	Long: `Verify a Firebase ID token issued to a signed-in client and print the
account's profile. The token is read from --token or prompted for.`,
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			var err error
			if token, err = readPassword("ID token: "); err != nil {
				fatalf("%v", err)
			}
		}

		withAuth(func(ctx context.Context, svc *auth.Service) {
			reportAuth(svc.Login(ctx, token))
		})
	},
}

// withAuth runs fn with an auth service for the configured Firebase project.
func withAuth(fn func(ctx context.Context, svc *auth.Service)) {
	settings := loadSettings()
	if settings.Mirror.Backend != config.BackendFirestore {
		fatalf("accounts need mirror.backend: firestore (configured: %s)", settings.Mirror.Backend)
	}
	logger, logClose := config.NewLogger(settings.Log, verboseFlag)
	defer logClose.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := cloudstore.NewApp(ctx, cloudstore.Config{
		ProjectID:       settings.Mirror.FirestoreProjectID,
		CredentialsFile: settings.Mirror.FirestoreCredentialsFile,
	})
	if err != nil {
		fatalf("%v", err)
	}
	backend, err := auth.NewFirebaseBackend(ctx, app)
	if err != nil {
		fatalf("%v", err)
	}
	defer backend.Close()

	fn(ctx, auth.NewService(backend, config.Component(logger, "auth")))
}

func reportAuth(r auth.Result) {
	switch r := r.(type) {
	case auth.Success:
		if jsonFlag {
			printJSON(map[string]any{"uid": r.UID, "profile": r.Profile})
			return
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), r)
		if r.Profile != nil {
			fmt.Printf("  Name:  %s\n  Email: %s\n  Role:  %s\n", r.Profile.Name, r.Profile.Email, r.Profile.Role)
		}
	case auth.Invalid:
		if jsonFlag {
			printJSON(map[string]any{"invalid": r.Reason})
		} else {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), r.Reason)
		}
		os.Exit(1)
	case auth.Unavailable:
		if jsonFlag {
			printJSON(map[string]any{"unavailable": r.Err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), r)
		}
		os.Exit(2)
	}
}

func init() {
	accountSignupCmd.Flags().String("name", "", "Full name")
	accountSignupCmd.Flags().String("email", "", "Email address")
	accountSignupCmd.Flags().String("password", "", "Password (prompted for when empty)")
	_ = accountSignupCmd.MarkFlagRequired("name")
	_ = accountSignupCmd.MarkFlagRequired("email")
	accountLoginCmd.Flags().String("token", "", "Firebase ID token")

	accountCmd.AddCommand(accountSignupCmd, accountLoginCmd)
	rootCmd.AddCommand(accountCmd)
}
