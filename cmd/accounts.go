package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/vadiminshakov/equitydash/internal/app"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

var (
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	tokenStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage tracked accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts with their cached stats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			list, err := a.Accounts.List(ctx)
			if err != nil {
				return err
			}
			fmt.Println(renderAccounts(list))
			return nil
		})
	},
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an account and print its webhook token",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			acct, err := a.Accounts.Create(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("created account %d %q\nwebhook: /api/webhook/mt5/%s\n", acct.ID, acct.Name, tokenStyle.Render(acct.Token))
			return nil
		})
	},
}

var accountsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename an account",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			acct, err := a.Accounts.Rename(ctx, id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("renamed account %d to %q\n", acct.ID, acct.Name)
			return nil
		})
	},
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an account with its trades and snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Accounts.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Printf("deleted account %d\n", id)
			return nil
		})
	},
}

func init() {
	accountsCmd.AddCommand(accountsListCmd, accountsCreateCmd, accountsRenameCmd, accountsDeleteCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", s)
	}
	return id, nil
}

func renderAccounts(list []domain.Account) string {
	if len(list) == 0 {
		return "no accounts"
	}
	var b strings.Builder
	b.WriteString(headStyle.Render(fmt.Sprintf("%-4s %-24s %14s %14s %12s", "ID", "NAME", "BALANCE", "EQUITY", "PROFIT")))
	for _, acct := range list {
		fmt.Fprintf(&b, "\n%-4d %-24s %14s %14s %12s",
			acct.ID, acct.Name,
			acct.Balance.StringFixed(2), acct.Equity.StringFixed(2), acct.Profit.StringFixed(2))
	}
	return b.String()
}
