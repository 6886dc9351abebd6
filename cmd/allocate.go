package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"LnSPoll/core/allocator"
	"LnSPoll/model"
	"LnSPoll/server"

	"github.com/spf13/cobra"
)

var (
	allocMotherTongue string
	allocCompetence   string
	allocGeneral      int
	allocLanguage     int
	allocJSON         bool
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "按当前音频目录为一个参与者试分配片段",
	Long: `Scans the audio catalogue and prints the clips a participant with the given
language profile would be assigned. Nothing is stored.`,
	Example: `  lnspoll allocate --mother-tongue Tamil
  lnspoll allocate --mother-tongue English --competence French -n 6 -m 3 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _, err := server.OpenCatalogue(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		cat, err := provider.Scan(cmd.Context())
		if err != nil {
			return err
		}

		n, m := cfg.GeneralQuota, cfg.LanguageQuota
		if cmd.Flags().Changed("general") {
			n = allocGeneral
		}
		if cmd.Flags().Changed("language") {
			m = allocLanguage
		}
		if n < 0 || m < 0 {
			return fmt.Errorf("quotas must be non-negative")
		}

		profile := model.ParticipantProfile{MotherTongue: allocMotherTongue, LanguageCompetence: allocCompetence}
		assignment := allocator.Allocate(cat, profile, n, m)

		out := cmd.OutOrStdout()
		if allocJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(assignment)
		}

		lang := assignment.Language
		if lang == "" {
			lang = "-"
		}
		fmt.Fprintf(out, "catalogue: %d files, language pool: %s\n\n", cat.Size(), lang)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CLIP\tPOOL\tCATEGORY\tPATH")
		for _, c := range assignment.Clips {
			pool := "general"
			if c.ClipID > assignment.GeneralCount {
				pool = assignment.Language
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ClipID, pool, c.File.Category, c.File.Path)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringVar(&allocMotherTongue, "mother-tongue", "", "参与者母语")
	allocateCmd.Flags().StringVar(&allocCompetence, "competence", "", "参与者熟练掌握的其他语言")
	allocateCmd.Flags().IntVarP(&allocGeneral, "general", "n", 0, "通用池片段数 (默认取 GENERAL_CLIP_QUOTA)")
	allocateCmd.Flags().IntVarP(&allocLanguage, "language", "m", 0, "语言池片段数 (默认取 LANGUAGE_CLIP_QUOTA)")
	allocateCmd.Flags().BoolVar(&allocJSON, "json", false, "以 JSON 输出")
	allocateCmd.MarkFlagRequired("mother-tongue")
}
