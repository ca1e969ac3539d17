package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/email-intel/internal/model"
)

var (
	predictDomain  string
	predictCompany string
	predictSector  string
	predictRegion  string
	predictSize    string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the email pattern for a domain without validating",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if predictDomain == "" {
			return eris.New("--domain is required")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result := env.Pipeline.Predict(ctx, model.CompanyContext{
			Domain:      predictDomain,
			CompanyName: predictCompany,
			Sector:      predictSector,
			Region:      predictRegion,
			CompanySize: predictSize,
		})
		return printJSON(cmd, result)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictDomain, "domain", "", "target domain")
	predictCmd.Flags().StringVar(&predictCompany, "company", "", "company name")
	predictCmd.Flags().StringVar(&predictSector, "sector", "", "company sector")
	predictCmd.Flags().StringVar(&predictRegion, "region", "", "company region")
	predictCmd.Flags().StringVar(&predictSize, "size", "", "company size band")
	rootCmd.AddCommand(predictCmd)
}
