package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	srv "github.com/mohammad-safakhou/ragpipe/internal/server"
	"github.com/mohammad-safakhou/ragpipe/knowledge"
	"github.com/spf13/cobra"
)

func knowledgeCMD() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "knowledge",
		Short: "Manage knowledge collections",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfg, err := loadConfig(); err == nil && cfg.Knowledge.Store != "redis" {
				log.Printf("knowledge.store=%s: changes are lost when this command exits", cfg.Knowledge.Store)
			}
		},
	}
	cmd.AddCommand(knowledgeCreateCMD(), knowledgeListCMD(), knowledgeIngestCMD(), knowledgeQueryCMD(), knowledgeDeleteCMD())
	return cmd
}

func withApp(cmd *cobra.Command, fn func(app *srv.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := srv.NewApp(cmd.Context(), *cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func knowledgeCreateCMD() *cobra.Command {
	var description, owner string
	var create = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *srv.App) error {
				col, err := app.Library.CreateCollection(cmd.Context(), args[0], description, owner)
				if err != nil {
					return err
				}
				return printJSON(cmd, col)
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "collection description")
	create.Flags().StringVar(&owner, "owner", "", "owning user id (empty shares the collection)")
	return create
}

func knowledgeListCMD() *cobra.Command {
	var userID string
	var list = &cobra.Command{
		Use:   "list",
		Short: "List collections visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *srv.App) error {
				cols, err := app.Library.ListCollections(cmd.Context(), userID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tOWNER\tCHUNKS\tCREATED")
				for _, c := range cols {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Name, c.OwnerID, c.Chunks, c.CreatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	return list
}

func knowledgeIngestCMD() *cobra.Command {
	var files, urls []string
	var ingest = &cobra.Command{
		Use:   "ingest [collection-id]",
		Short: "Ingest text files and web pages into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 && len(urls) == 0 {
				return fmt.Errorf("nothing to ingest: pass --file or --url")
			}
			return withApp(cmd, func(app *srv.App) error {
				var docs []knowledge.DocInput
				for _, f := range files {
					b, err := os.ReadFile(f)
					if err != nil {
						return err
					}
					title := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
					docs = append(docs, knowledge.DocInput{Title: title, Text: string(b)})
				}
				fetched, failed := srv.FetchDocuments(cmd.Context(), app.Fetcher, urls, log.New(os.Stderr, "[FETCH] ", log.LstdFlags))
				docs = append(docs, fetched...)
				resp, err := app.Library.Ingest(cmd.Context(), args[0], docs)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, resp); err != nil {
					return err
				}
				if len(failed) > 0 {
					return fmt.Errorf("%d url(s) could not be fetched", len(failed))
				}
				return nil
			})
		},
	}
	ingest.Flags().StringArrayVar(&files, "file", nil, "text or HTML file to ingest (repeatable)")
	ingest.Flags().StringArrayVar(&urls, "url", nil, "web page to fetch and ingest (repeatable)")
	return ingest
}

func knowledgeQueryCMD() *cobra.Command {
	var k int
	var query = &cobra.Command{
		Use:   "query [collection-id] [query]",
		Short: "Show the passages a collection returns for a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *srv.App) error {
				hits, err := app.Library.Search(cmd.Context(), args[0], strings.Join(args[1:], " "), k)
				if err != nil {
					return err
				}
				return printJSON(cmd, hits)
			})
		},
	}
	query.Flags().IntVarP(&k, "k", "k", 5, "number of passages")
	return query
}

func knowledgeDeleteCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [collection-id]",
		Short: "Delete a collection and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *srv.App) error {
				return app.Library.DeleteCollection(cmd.Context(), args[0])
			})
		},
	}
}
