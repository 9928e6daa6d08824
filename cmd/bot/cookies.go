package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coah80/yoinktube/internal/cookies"
	"github.com/coah80/yoinktube/internal/util"
)

// cookiesCmd groups offline maintenance of the cookie file. None of these
// need Discord credentials.
func cookiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect and maintain the cookie file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("please specify a subcommand. Use --help to see available subcommands")
		},
	}
	cmd.AddCommand(cookiesValidateCmd())
	cmd.AddCommand(cookiesBackupsCmd())
	cmd.AddCommand(cookiesPruneCmd())
	return cmd
}

func openStore() (*cookies.Store, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store := cookies.NewStore(cfg.CookiesPath, cfg.CookiesBackupDir, log)
	store.Inspect()
	return store, nil
}

func cookiesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a cookies.txt file without installing it",
		Long:  "Validate runs the same checks as an admin upload. Without a file argument the active cookie file is checked.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			path := store.Path()
			if len(args) == 1 {
				path = args[0]
			}
			ok, reason := store.Validate(path)
			if !ok {
				return fmt.Errorf("%s: %s", path, reason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, reason)
			return nil
		},
	}
}

func cookiesBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List cookie backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			backups, err := store.ListBackups()
			if err != nil {
				return fmt.Errorf("listing backups: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "No backups in %s\n", store.BackupDir())
				return nil
			}
			for i, b := range backups {
				fmt.Fprintf(out, "%2d. %s  %s  %s\n", i+1, b.Name, util.FormatSize(b.Size), b.ModTime.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func cookiesPruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative, got %d", keep)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			removed, err := store.PruneBackups(keep)
			if err != nil {
				return fmt.Errorf("pruning backups: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backup(s), kept the newest %d\n", removed, keep)
			return nil
		},
	}
	cmd.Flags().IntVarP(&keep, "keep", "k", 5, "number of backups to keep")
	return cmd
}
