package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/email-intel/internal/model"
)

var (
	failuresDomain  string
	failuresPattern string
	failuresConf    float64
	overrideCompany string
	overrideSector  string
	overrideRegion  string
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect and correct failure memory",
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failure records for a domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if failuresDomain == "" {
			return eris.New("--domain is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.FindFailuresByDomain(ctx, failuresDomain)
		if err != nil {
			return eris.Wrap(err, "list failures")
		}
		return printJSON(cmd, recs)
	},
}

var failuresOverrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Check whether failure memory recommends a correction",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if failuresDomain == "" {
			return eris.New("--domain is required")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		override, err := env.Failures.CheckForOverride(ctx, model.CompanyContext{
			Domain:      failuresDomain,
			CompanyName: overrideCompany,
			Sector:      overrideSector,
			Region:      overrideRegion,
		})
		if err != nil {
			return eris.Wrap(err, "check override")
		}
		if override == nil {
			cmd.Println("no override recommendation")
			return nil
		}
		return printJSON(cmd, override)
	},
}

var failuresCorrectCmd = &cobra.Command{
	Use:   "correct",
	Short: "Retroactively set the correct pattern on unresolved failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if failuresDomain == "" || failuresPattern == "" {
			return eris.New("--domain and --pattern are required")
		}
		pattern, known := model.ParsePattern(failuresPattern)
		if !known {
			return eris.Errorf("%q is not a recognized pattern template", failuresPattern)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.UpdateFailuresCorrectPattern(ctx, failuresDomain, pattern, failuresConf)
		if err != nil {
			return eris.Wrap(err, "correct failures")
		}
		cmd.Printf("corrected %d failure record(s)\n", n)
		return nil
	},
}

func init() {
	failuresCmd.PersistentFlags().StringVar(&failuresDomain, "domain", "", "target domain")
	failuresOverrideCmd.Flags().StringVar(&overrideCompany, "company", "", "company name")
	failuresOverrideCmd.Flags().StringVar(&overrideSector, "sector", "", "company sector")
	failuresOverrideCmd.Flags().StringVar(&overrideRegion, "region", "", "company region")
	failuresCorrectCmd.Flags().StringVar(&failuresPattern, "pattern", "", "validated correct pattern")
	failuresCorrectCmd.Flags().Float64Var(&failuresConf, "confidence", 0.9, "correction confidence")
	failuresCmd.AddCommand(failuresListCmd, failuresOverrideCmd, failuresCorrectCmd)
	rootCmd.AddCommand(failuresCmd)
}
