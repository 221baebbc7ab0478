package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rangecompare/internal/api"
	"rangecompare/internal/chart"
	"rangecompare/internal/compare"
	"rangecompare/internal/history"
)

func compareCmd() *cobra.Command {
	var from1, to1, from2, to2 string
	var withChart bool

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Fetch both ranges once and print the comparison as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var sels [2]compare.Selection
			bounds := [2][2]string{{from1, to1}, {from2, to2}}
			defaults := compare.DefaultSelections(time.Now())
			for i, b := range bounds {
				sel, err := parseSelection(b[0], b[1], defaults[i])
				if err != nil {
					return fmt.Errorf("range %d: %w", i+1, err)
				}
				sels[i] = sel
			}

			src, closeSource, err := buildSource(cfg, nil)
			if err != nil {
				return err
			}
			defer closeSource()

			opts, err := cfg.CompareOptions()
			if err != nil {
				return err
			}
			coord, err := compare.New(src, opts)
			if err != nil {
				return err
			}
			defer coord.Close()

			for _, slot := range compare.Slots {
				coord.Select(slot, sels[slot])
			}
			coord.Wait()

			views := coord.Slots()
			for _, v := range views {
				if v.Err != "" {
					log.WithField("slot", v.Name).Warn(v.Err)
				}
			}

			var out interface{} = coord.State()
			if withChart {
				out = chart.Build(coord.State(), cfg.ChartTheme(), cfg.Title, cfg.UnitLabel)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&from1, "from1", "", "Range 1 start (RFC3339 or YYYY-MM-DD), default yesterday")
	cmd.Flags().StringVar(&to1, "to1", "", "Range 1 end, default today")
	cmd.Flags().StringVar(&from2, "from2", "", "Range 2 start, default today")
	cmd.Flags().StringVar(&to2, "to2", "", "Range 2 end, default tomorrow")
	cmd.Flags().BoolVar(&withChart, "chart", false, "Print chart options instead of the raw state")
	return cmd
}

// parseSelection fills missing bounds from def
func parseSelection(from, to string, def compare.Selection) (compare.Selection, error) {
	sel := def
	if from != "" {
		t, err := parseTime(from)
		if err != nil {
			return sel, err
		}
		sel.Start = t
	}
	if to != "" {
		t, err := parseTime(to)
		if err != nil {
			return sel, err
		}
		sel.End = t
	}
	return sel, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339 or YYYY-MM-DD", v)
	}
	return t, nil
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash of an API token for server.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := api.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func pruneCacheCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune-cache",
		Short: "Delete cached ranges fetched before a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.CacheEnabled() {
				return fmt.Errorf("cache is disabled")
			}
			cache, err := history.NewCache(cfg.Cache.Path)
			if err != nil {
				return err
			}
			defer cache.Close()

			n, err := cache.Prune(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.WithField("ranges", n).Info("pruned history cache")
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove ranges fetched longer ago than this")
	return cmd
}
