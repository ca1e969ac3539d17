package main

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/email-intel/internal/model"
)

var (
	learnDomain       string
	learnCompany      string
	learnSector       string
	learnRegion       string
	learnSize         string
	learnContactsFile string
	learnHint         string
	learnHintConf     float64
	learnFile         string
	learnConcurrency  int
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn and validate the email pattern for one or more domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if learnFile != "" {
			return learnBatch(cmd, env)
		}

		if learnDomain == "" {
			return eris.New("--domain is required (or --file for batch mode)")
		}

		req := model.LearnRequest{
			Context: model.CompanyContext{
				Domain:      learnDomain,
				CompanyName: learnCompany,
				Sector:      learnSector,
				Region:      learnRegion,
				CompanySize: learnSize,
			},
		}
		if learnContactsFile != "" {
			contacts, err := loadContacts(learnContactsFile)
			if err != nil {
				return err
			}
			req.Contacts = contacts
		}
		if learnHint != "" {
			pattern, known := model.ParsePattern(learnHint)
			if !known {
				return eris.Errorf("hint %q is not a recognized pattern template", learnHint)
			}
			req.Hint = &model.HintedPattern{Pattern: pattern, Confidence: learnHintConf}
		}

		result, err := env.Pipeline.LearnPattern(ctx, req)
		if err != nil {
			return eris.Wrap(err, "learn pattern")
		}
		return printJSON(cmd, result)
	},
}

// learnBatch runs the pipeline over a newline-delimited domain list with
// bounded concurrency.
func learnBatch(cmd *cobra.Command, env *pipelineEnv) error {
	f, err := os.Open(learnFile)
	if err != nil {
		return eris.Wrap(err, "open domains file")
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "read domains file")
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(learnConcurrency)
	results := make([]*model.LearnResult, len(domains))

	for i, domain := range domains {
		g.Go(func() error {
			result, err := env.Pipeline.LearnPattern(ctx, model.LearnRequest{
				Context: model.CompanyContext{Domain: domain},
			})
			if err != nil {
				zap.L().Error("batch learn failed", zap.String("domain", domain), zap.Error(err))
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch learn")
	}
	return printJSON(cmd, results)
}

// loadContacts reads a JSON array of contacts from a file.
func loadContacts(path string) ([]model.Contact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read contacts file")
	}
	var contacts []model.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, eris.Wrap(err, "parse contacts file")
	}
	return contacts, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	learnCmd.Flags().StringVar(&learnDomain, "domain", "", "target domain")
	learnCmd.Flags().StringVar(&learnCompany, "company", "", "company name")
	learnCmd.Flags().StringVar(&learnSector, "sector", "", "company sector")
	learnCmd.Flags().StringVar(&learnRegion, "region", "", "company region")
	learnCmd.Flags().StringVar(&learnSize, "size", "", "company size band")
	learnCmd.Flags().StringVar(&learnContactsFile, "contacts", "", "JSON file with validation contacts")
	learnCmd.Flags().StringVar(&learnHint, "hint", "", "third-party-suggested pattern to test first")
	learnCmd.Flags().Float64Var(&learnHintConf, "hint-confidence", 0.6, "confidence attached to the hint")
	learnCmd.Flags().StringVar(&learnFile, "file", "", "newline-delimited domain list for batch mode")
	learnCmd.Flags().IntVar(&learnConcurrency, "concurrency", 4, "batch mode concurrency")
	rootCmd.AddCommand(learnCmd)
}
