package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl FROM TO",
		Short: "Ingests every article on listing pages FROM..TO",
		Long: `Visits archive listing pages FROM through TO inclusive and ingests every
article linked from them. Articles whose title is already stored are skipped.`,
		Args: cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, sess *session) error {
			from, err := parsePage("FROM", args[0])
			if err != nil {
				return err
			}
			to, err := parsePage("TO", args[1])
			if err != nil {
				return err
			}
			return runCrawl(cmd, sess, func(ctx context.Context) (crawler.Summary, error) {
				return sess.app.Crawl(ctx, from, to)
			})
		}),
	}
}

func newCrawlUnseenCmd() *cobra.Command {
	var maxPages int
	cmd := &cobra.Command{
		Use:   "crawl-unseen",
		Short: "Ingests articles newer than the newest stored one",
		Long: `Walks listing pages from page 1 and ingests articles until the first one
that is already stored, reading at most --max-pages pages.`,
		Args: cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, _ []string, sess *session) error {
			pages := maxPages
			if !cmd.Flags().Changed("max-pages") {
				pages = sess.cfg.Archive.UnseenMaxPages
			}
			return runCrawl(cmd, sess, func(ctx context.Context) (crawler.Summary, error) {
				return sess.app.CrawlUnseen(ctx, pages)
			})
		}),
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "listing pages to read at most (default archive.unseen_max_pages)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, _ []string, sess *session) error {
			if err := sess.app.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		}),
	}
}

func runCrawl(cmd *cobra.Command, sess *session, run func(context.Context) (crawler.Summary, error)) error {
	summary, err := run(cmd.Context())
	if summary.RunID != "" {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		sess.logger.Error("crawl failed", zap.Error(err))
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}

func parsePage(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a page number, got %q", name, raw)
	}
	return n, nil
}

func printSummary(w io.Writer, s crawler.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		key string
		val any
	}{
		{"run", s.RunID},
		{"policy", s.Policy},
		{"pages visited", s.PagesVisited},
		{"links discovered", s.LinksDiscovered},
		{"records created", s.RecordsCreated},
		{"records skipped", s.RecordsSkipped},
		{"pages unusable", s.PagesUnusable},
		{"fetch failures", s.FetchFailures},
		{"labels created", s.LabelsCreated},
		{"stopped at known", s.StoppedAtKnown},
		{"duration", s.Duration},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s:\t%v\n", r.key, r.val)
	}
	_ = tw.Flush()
}
