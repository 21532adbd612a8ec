package cli

import (
	"github.com/spf13/cobra"

	"github.com/j-angnoe/flux-framework-bundle/internal/cache"
	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
)

const (
	searchFlag = "search"
	uniqueFlag = "unique"
	cacheFlag  = "cache"
	headFlag   = "head"
)

// NewCatCommand returns the command that filters a file through a pipeline.
func NewCatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <file>",
		Short: "Print a file through a filtering pipeline",
		Long: `Print a file through a lazy pipeline. --search keeps lines matching a
quicksearch expression ("error -debug", "a|b", "^prefix"). --unique drops
repeated lines. --cache replays the result from disk while it is younger
than the given TTL ("10m", "1h", "2 days").`,
		Example: `  flux cat /var/log/syslog --search 'error -cron' --unique 1000
  flux cat big.csv --search ^2024 --cache 1h`,
		Args: cobra.ExactArgs(1),
		RunE: catFile,
	}
	flags := cmd.Flags()
	flags.String(searchFlag, "", "quicksearch expression")
	flags.Int(uniqueFlag, -1, "drop repeated lines, remembering this many (0 means all)")
	flags.String(cacheFlag, "", "cache the output for this TTL")
	flags.Int(headFlag, 0, "stop after this many lines")
	return cmd
}

func catFile(cmd *cobra.Command, args []string) error {
	a := fromCommand(cmd)
	flags := cmd.Flags()
	search, _ := flags.GetString(searchFlag)
	unique, _ := flags.GetInt(uniqueFlag)
	ttl, _ := flags.GetString(cacheFlag)
	head, _ := flags.GetInt(headFlag)

	p := pipeline.Cat(args[0], true, pipeline.WithLogger(a.logger.Component("pipeline")))
	if search != "" {
		p = p.QuickSearch(search)
	}
	if unique >= 0 {
		p = p.Unique(unique)
	}
	if ttl != "" {
		var err error
		p, err = cache.Wrap(p, ttl,
			cache.WithDir(a.cfg.Cache.Dir),
			cache.WithID("cat"),
			cache.WithArgs(args[0], search, unique),
			cache.WithLogger(a.logger.Component("cache")),
		)
		if err != nil {
			return err
		}
	}
	if head > 0 {
		p = p.Head(head)
	}
	_, err := p.Output(cmd.Context(), cmd.OutOrStdout())
	return err
}
