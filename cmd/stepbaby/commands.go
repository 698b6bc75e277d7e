package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keiwa-murasawa/stepbaby/internal/remote"
	"github.com/keiwa-murasawa/stepbaby/internal/server"
	"github.com/keiwa-murasawa/stepbaby/internal/stage"
)

func stageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <YYYY-MM-DD>",
		Short: "Print the stage a birth or due date falls into today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := stage.Classify(args[0], time.Now())
			if !ok {
				return fmt.Errorf("invalid date %q: use YYYY-MM-DD", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func shareCmd(o *globalOptions) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Create a shared list from your profile and print its link",
		Long: `Create a shared list seeded with the default tasks of every catalog stage.

The list id is saved so that the next launch opens the shared list. Anyone
with the printed link can open and edit the same list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			profile, err := db.Profile(ctx)
			if err != nil {
				return err
			}
			if profile.BirthDate == "" {
				return errors.New("no profile yet: run stepbaby once to enter a nickname and date")
			}

			client, err := a.dialRemote(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			doc, err := client.Create(ctx, remote.SeedFromCatalog(title, profile.Nickname, profile.BirthDate, a.catalog))
			if err != nil {
				return err
			}
			if err := db.SetListID(ctx, doc.ID); err != nil {
				return fmt.Errorf("save list id: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), remote.ShareURL(a.cfg.ShareBaseURL, doc.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "title shown on the shared list")
	return cmd
}

func openCmd(o *globalOptions) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "open <list-id>",
		Short: "Open a shared list on the next launch",
		Args: func(cmd *cobra.Command, args []string) error {
			if local {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if local {
				if err := db.SetListID(ctx, ""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Back to the local list")
				return nil
			}

			id := args[0]
			client, err := a.dialRemote(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			doc, err := client.Get(ctx, id)
			if errors.Is(err, remote.ErrListNotFound) {
				return fmt.Errorf("list %s not found", id)
			}
			if err != nil {
				return err
			}
			if err := db.SetListID(ctx, doc.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Opening %s on the next launch\n", remote.ShareURL(a.cfg.ShareBaseURL, doc.ID))
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "forget the shared list and go back to the local one")
	return cmd
}

func serveCmd(o *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve shared lists over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := a.dialRemote(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if addr == "" {
				addr = a.cfg.ListenAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(client, a.catalog, a.cfg.ShareBaseURL, a.log).Routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("share server listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.log.Info("share server stopping")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default listen_addr from the config)")
	return cmd
}
