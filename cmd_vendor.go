package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/logging"
	"github.com/any-hub/xk6-cache/internal/server"
)

func newVendorCmd(opts *cliOptions) *cobra.Command {
	var (
		jobs    int
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "vendor URL...",
		Short: "Fetch modules and record them in the cache file",
		Long: `Fetch every URL once and record its content in the cache file.

Entries already present are kept as they are unless --refresh is given,
in which case the content is fetched again and overwritten.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadWithLogger()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}

			keys, err := parseKeys(args)
			if err != nil {
				return err
			}

			fetcher := server.NewHTTPFetcher(server.NewUpstreamClient(cfg), logger, cfg.MaxContentSize)
			resolver, err := cache.NewResolver(cache.ResolverOptions{
				Store:   store,
				Fetcher: cache.FetcherForMode(cfg.CacheMode(), fetcher),
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			results, err := vendorKeys(cmd.Context(), resolver, fetcher, keys, jobs, refresh)
			if err != nil {
				return err
			}
			if store.Dirty() {
				if err := store.Save(cfg.CachePath); err != nil {
					return fmt.Errorf("保存缓存文件失败: %w", err)
				}
			}

			fields := logging.BaseFields("vendor", cfg.CachePath)
			fields["modules"] = len(keys)
			fields["entries"] = store.Size()
			logger.WithFields(fields).Info("vendor_complete")

			return printVendorResults(cmd, results)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "并发拉取数")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "重新拉取并覆盖已有条目")
	return cmd
}

type vendorResult struct {
	Key  string
	Size int
	Hit  bool
}

func parseKeys(args []string) ([]string, error) {
	keys := make([]string, 0, len(args))
	for _, arg := range args {
		key, err := cache.ParseKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// vendorKeys 并发解析 keys，任一失败会取消其余拉取；结果顺序与输入一致。
func vendorKeys(ctx context.Context, resolver *cache.Resolver, fetcher cache.Fetcher, keys []string, jobs int, refresh bool) ([]vendorResult, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([]vendorResult, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, key := range keys {
		g.Go(func() error {
			if refresh {
				content, err := fetcher.Fetch(ctx, key)
				if err != nil {
					return err
				}
				if err := resolver.Store().Update(key, content); err != nil {
					return err
				}
				results[i] = vendorResult{Key: key, Size: len(content)}
				return nil
			}

			res, err := resolver.ResolveEntry(ctx, key)
			if err != nil {
				return err
			}
			results[i] = vendorResult{Key: key, Size: len(res.Content), Hit: res.Hit}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func printVendorResults(cmd *cobra.Command, results []vendorResult) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header([]string{"Module", "Size", "Source"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.PerColumn = []tw.Align{tw.AlignLeft, tw.AlignRight, tw.AlignLeft}
	})

	data := make([][]string, 0, len(results))
	for _, r := range results {
		source := "fetched"
		if r.Hit {
			source = "cached"
		}
		data = append(data, []string{r.Key, strconv.Itoa(r.Size), source})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func newListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entries recorded in the cache file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header([]string{"Key", "Size"})
			table.Configure(func(cfg *tablewriter.Config) {
				cfg.Row.Alignment.PerColumn = []tw.Align{tw.AlignLeft, tw.AlignRight}
			})

			entries := store.Entries()
			data := make([][]string, 0, len(entries))
			for _, entry := range entries {
				data = append(data, []string{entry.Key, strconv.Itoa(len(entry.Content))})
			}
			if err := table.Bulk(data); err != nil {
				return err
			}
			return table.Render()
		},
	}
}

func newVerifyCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify URL...",
		Short: "Check that modules are vendored, without touching the network",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}

			resolver, err := cache.NewResolver(cache.ResolverOptions{
				Store:   store,
				Fetcher: cache.OfflineFetcher{},
			})
			if err != nil {
				return err
			}
			return verifyKeys(cmd, resolver, keys)
		},
	}
}

var (
	okLabel      = color.New(color.FgGreen).SprintFunc()
	missingLabel = color.New(color.FgRed, color.Bold).SprintFunc()
)

func verifyKeys(cmd *cobra.Command, resolver *cache.Resolver, keys []string) error {
	missing := 0
	out := cmd.OutOrStdout()
	for _, key := range keys {
		_, err := resolver.Resolve(cmd.Context(), key)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s %s\n", okLabel("OK     "), key)
		case errors.Is(err, cache.ErrStrictMiss):
			missing++
			fmt.Fprintf(out, "%s %s\n", missingLabel("MISSING"), key)
		default:
			return err
		}
	}
	if missing > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d modules are not vendored\n", missing, len(keys))
		return errVerifyFailed
	}
	return nil
}
