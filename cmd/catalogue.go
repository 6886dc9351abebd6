package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"LnSPoll/model"
	"LnSPoll/server"

	"github.com/spf13/cobra"
)

var catalogueVerbose bool

var catalogueCmd = &cobra.Command{
	Use:   "catalogue",
	Short: "扫描并统计音频目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _, err := server.OpenCatalogue(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		cat, err := provider.Scan(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POOL\tFILES\tNEWS_CLIP\tNEWS_REAL\tOTHER\tSPEED VARIANTS")
		printPool(tw, "general", cat.General)

		langs := make([]string, 0, len(cat.ByLanguage))
		for l := range cat.ByLanguage {
			langs = append(langs, l)
		}
		sort.Strings(langs)
		for _, l := range langs {
			printPool(tw, l, cat.ByLanguage[l])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\ntotal: %d files\n", cat.Size())

		if catalogueVerbose {
			fmt.Fprintln(out)
			for _, f := range cat.General {
				fmt.Fprintf(out, "%s\t%s\n", f.Path, f.BaseName)
			}
			for _, l := range langs {
				for _, f := range cat.ByLanguage[l] {
					fmt.Fprintf(out, "%s\t%s\n", f.Path, f.BaseName)
				}
			}
		}
		return nil
	},
}

func printPool(tw *tabwriter.Writer, name string, files []model.AudioFile) {
	counts := map[model.Category]int{}
	variants := 0
	for _, f := range files {
		counts[f.Category]++
		if f.IsSpeedVariant {
			variants++
		}
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", name, len(files),
		counts[model.CategoryNewsClip], counts[model.CategoryNewsReal], counts[model.CategoryOther], variants)
}

func init() {
	rootCmd.AddCommand(catalogueCmd)
	catalogueCmd.Flags().BoolVarP(&catalogueVerbose, "verbose", "v", false, "列出每个文件及其去掉速度标记后的名称")
}
