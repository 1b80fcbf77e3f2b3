package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/policy"
)

var lintCmd = &cobra.Command{
	Use:   "lint <policy-file>",
	Short: "Validate a policy document",
	Long: `Parse a policy document and report validation issues.

Exits non-zero when the document contains errors. Warnings are
reported but do not fail the lint.`,
	Args: cobra.ExactArgs(1),
	RunE: runLint,
}

func init() {
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc, err := policy.ParsePolicyDocument(string(text), policy.Metadata{
		Source:       path,
		LastModified: info.ModTime(),
	})
	if doc != nil {
		for _, issue := range doc.Issues() {
			fmt.Printf("%s: %s: %s\n", issue.Severity, issue.Scope, issue.Message)
		}
	}
	if err != nil {
		return fmt.Errorf("policy document is invalid")
	}

	env := doc.Policy()
	groups := 0
	for _, system := range env.Systems() {
		groups += len(system.Groups())
	}
	fmt.Printf("ok: environment %q, %d system(s), %d group(s)\n",
		env.Name(), len(env.Systems()), groups)
	return nil
}
