package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/sandbox"
	"github.com/franz/gigbase-loader/internal/schema"
	"github.com/franz/gigbase-loader/internal/util"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Serve an in-memory GigBase GraphQL endpoint",
	Long: `Serve an in-memory, Hasura-style GraphQL endpoint for the chosen schema
variant. Data lives only as long as the process.

Point the loader at the printed URL to rehearse a load without touching
a real database. Stop with Ctrl-C.`,
	RunE: runSandbox,
}

func init() {
	rootCmd.AddCommand(sandboxCmd)

	sandboxCmd.Flags().String("listen", "127.0.0.1:8080", "Address to listen on")
	sandboxCmd.Flags().String("access-key", "", "Require this access key (default: none)")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	variant, err := schema.ParseVariant(viper.GetString("schema"))
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	accessKey, _ := cmd.Flags().GetString("access-key")

	sb, err := sandbox.New(sandbox.Options{
		Variant:   string(variant),
		AccessKey: accessKey,
		KeyHeader: GetConfigString("key_header", graphql.DefaultKeyHeader),
	})
	if err != nil {
		return err
	}

	ln, err := sb.Start(listen)
	if err != nil {
		return err
	}

	util.SuccessLog("Sandbox (%s schema) listening on %s", variant, ln.URL)
	util.InfoLog("Try: gigload load --endpoint %s --schema %s <file>", ln.URL, variant)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = ln.Wait(ctx)
	util.InfoLog("Sandbox stopped after %d requests (%d gigs, %d songs, %d performances)",
		len(sb.Requests()), sb.Count("gig"), sb.Count("song"), sb.Count("performance"))
	return err
}
