package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meridian-io/relay/internal/client"
	"github.com/meridian-io/relay/pkg/relay"
)

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	var (
		maxAge time.Duration
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "Fetch a single resource",
		Long:  "Perform a GET request against the API and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := buildClient()
			if err != nil {
				return err
			}

			descriptor := &relay.Descriptor{
				Method:     http.MethodGet,
				Path:       args[0],
				Revalidate: revalidatePolicy(maxAge, force),
			}

			body, err := cli.Execute(cmd.Context(), descriptor)
			if err != nil {
				return err
			}

			output := viper.GetString("output")
			if output == "table" {
				output = "json"
			}

			return renderBody(body, output)
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "serve a cached response younger than this")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache and overwrite the entry")

	return cmd
}

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	var (
		maxAge time.Duration
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "list PATH",
		Short: "List a resource collection",
		Long:  "Perform a GET request against a collection endpoint and render the items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := buildClient()
			if err != nil {
				return err
			}

			descriptor := &relay.Descriptor{
				Method:     http.MethodGet,
				Path:       args[0],
				Revalidate: revalidatePolicy(maxAge, force),
			}

			body, err := cli.Execute(cmd.Context(), descriptor)
			if err != nil {
				return err
			}

			return renderBody(body, viper.GetString("output"))
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "serve a cached response younger than this")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache and overwrite the entry")

	return cmd
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PATH",
		Short: "Delete a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := buildClient()
			if err != nil {
				return err
			}

			err = deleteResource(cmd.Context(), cli, args[0])
			if err != nil {
				return err
			}

			fmt.Println("Deleted", args[0])

			return nil
		},
	}
}

// deleteResource issues the delete and drops cached reads under the affected
// collection. With a shared backend (NATS KV) the entries outlive this
// process, so the invalidation matters beyond the current run.
func deleteResource(ctx context.Context, cli *client.Client, path string) error {
	_, err := cli.Execute(ctx, &relay.Descriptor{
		Method: http.MethodDelete,
		Path:   path,
	})
	if err != nil {
		return err
	}

	return cli.CacheManager().InvalidatePrefix(ctx, invalidationPrefix(path))
}

// invalidationPrefix returns the GET-key prefix covering the listing, its
// query variants and the single-item entries for the collection containing
// path. Deleting /v1/widgets/42 invalidates everything under GET:/v1/widgets.
func invalidationPrefix(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i > 0 {
		trimmed = trimmed[:i]
	}

	return http.MethodGet + ":" + trimmed
}

func revalidatePolicy(maxAge time.Duration, force bool) relay.Revalidate {
	switch {
	case force:
		return relay.RevalidateForce
	case maxAge > 0:
		return relay.MaxAge(maxAge)
	default:
		return relay.RevalidateNone
	}
}
