package cmd

import (
	"fmt"
	"io"
	"os"

	"LnSPoll/core/questions"
	"LnSPoll/core/report"
	"LnSPoll/logger"
	"LnSPoll/storage"

	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
	exportFrom   string
	exportTo     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "导出已保存的问卷结果",
	Example: `  lnspoll export --format csv --out responses.csv
  lnspoll export --format json --from 2025-04-01 --to 2025-04-30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFormat != report.FormatCSV && exportFormat != report.FormatJSON {
			return fmt.Errorf("unsupported format %q, use csv or json", exportFormat)
		}
		rng, err := report.ParseDateRange(exportFrom, exportTo)
		if err != nil {
			return fmt.Errorf("dates must use YYYY-MM-DD: %w", err)
		}

		q := questions.Default()
		if cfg.QuestionsFile != "" {
			if q, err = questions.Load(cfg.QuestionsFile); err != nil {
				return err
			}
		}

		store, err := storage.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		all, err := store.LoadAll(cmd.Context())
		if err != nil {
			return err
		}
		responses := report.Filter(all, rng)

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := report.Write(w, exportFormat, responses, q); err != nil {
			return err
		}
		logger.Info("[Export] done",
			logger.String("backend", store.Name()),
			logger.String("format", exportFormat),
			logger.Int("responses", len(responses)),
			logger.String("out", exportOut))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", report.FormatCSV, "导出格式: csv 或 json")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "输出文件，默认写到标准输出")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "起始日期 YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "结束日期 YYYY-MM-DD")
}
