package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/docquery"
	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/shell"
)

var (
	configFile string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "docquery",
	Short:         "Embedded document store with live query cursors",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*docquery.DB, error) {
	cfg, err := docquery.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return docquery.Open(ctx, cfg)
}

// rowJSON is the line format printed by query and watch.
type rowJSON struct {
	ID       string        `json:"id"`
	Sequence uint64        `json:"sequence"`
	Revision string        `json:"revision"`
	Flags    string        `json:"flags"`
	Columns  []any         `json:"columns"`
	Terms    []cursor.Term `json:"terms,omitempty"`
}

func readRow(c *cursor.ResultCursor) (*rowJSON, error) {
	var (
		r   rowJSON
		err error
	)
	if r.ID, err = c.DocID(); err != nil {
		return nil, err
	}
	if r.Sequence, err = c.Sequence(); err != nil {
		return nil, err
	}
	if r.Revision, err = c.RevisionID(); err != nil {
		return nil, err
	}
	flags, err := c.Flags()
	if err != nil {
		return nil, err
	}
	r.Flags = flags.String()

	it, err := c.Columns()
	if err != nil {
		return nil, err
	}
	if r.Columns, err = it.Values(); err != nil {
		return nil, err
	}
	for i, v := range r.Columns {
		if s, ok := v.(string); ok && json.Valid([]byte(s)) && (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
			r.Columns[i] = json.RawMessage(s)
		}
	}

	m, err := c.FullTextMatch()
	if err != nil {
		return nil, err
	}
	if r.Terms, err = m.Terms(); err != nil {
		return nil, err
	}
	return &r, nil
}

// printRows writes every remaining row of c as one JSON object per line.
func printRows(w io.Writer, c *cursor.ResultCursor) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for {
		more, err := c.Next()
		if err != nil {
			return n, err
		}
		if !more {
			return n, nil
		}
		r, err := readRow(c)
		if err != nil {
			return n, err
		}
		if err := enc.Encode(r); err != nil {
			return n, err
		}
		n++
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			sh := shell.New(db)
			defer sh.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "DocQuery Shell. Type '.help' for commands.")
			return sh.Run(ctx, cmd.OutOrStdout())
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query <json>",
		Short: "Run a query and print its rows as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			c, err := db.QueryJSON(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			defer c.Release()
			_, err = printRows(cmd.OutOrStdout(), c)
			return err
		},
	}

	putCmd := &cobra.Command{
		Use:   "put <doc_id> <json>",
		Short: "Store a document revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			rev, err := db.Put(ctx, args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seq=%d rev=%s\n", rev.Sequence, rev.RevisionID)
			return nil
		},
	}

	indexCmd := &cobra.Command{
		Use:   "index <name> <path>",
		Short: "Create a full-text index on a document field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.CreateFullTextIndex(ctx, args[0], args[1])
		},
	}

	var metricsAddr string
	watchCmd := &cobra.Command{
		Use:   "watch <json>",
		Short: "Print a query's result each time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if metricsAddr != "" && db.Metrics() != nil {
				srv := &http.Server{Addr: metricsAddr, Handler: db.Metrics().Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
					}
				}()
				defer srv.Close()
			}

			q, err := docquery.ParseQuery([]byte(args[0]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			o, err := db.Observe(ctx, q, func(c *cursor.ResultCursor, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "refresh: %v\n", err)
					return
				}
				fmt.Fprintln(out, "---")
				if _, err := printRows(out, c); err != nil {
					fmt.Fprintf(os.Stderr, "read rows: %v\n", err)
				}
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			return o.Stop()
		},
	}
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(shellCmd, queryCmd, putCmd, indexCmd, watchCmd)
}
