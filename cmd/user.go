/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/taskhub/apiserver/config"
	"github.com/taskhub/apiserver/internal/db"
	"github.com/taskhub/apiserver/internal/logger"
	"github.com/taskhub/apiserver/internal/services"
	"github.com/taskhub/apiserver/internal/store"
	"github.com/taskhub/apiserver/types"
)

var (
	promoteEmail string
	promoteRole  string
)

// userCmd groups account administration commands.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Change the role of an account",
	Long: `Changes the role of the account registered under --email. The API has no
endpoint for granting roles, so the first admin is created here:

	taskhub user promote --email admin@example.com --role admin
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		userService := services.NewUserService(store.NewUserRepository(dbConn))
		user, err := userService.Promote(cmd.Context(), promoteEmail, types.Role(promoteRole))
		if err != nil {
			return fmt.Errorf("promote %s: %w", promoteEmail, err)
		}
		logger.Infof("user %d (%s) now has role %s", user.ID, user.Email, user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userPromoteCmd)

	userPromoteCmd.Flags().StringVar(&promoteEmail, "email", "", "email of the account to change")
	userPromoteCmd.Flags().StringVar(&promoteRole, "role", string(types.RoleAdmin), "role to grant (user or admin)")
	_ = userPromoteCmd.MarkFlagRequired("email")
}
