package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/factstore/internal/entitykey"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print canonical entity keys",
	}

	var p entitykey.Person
	person := &cobra.Command{
		Use:   "person",
		Short: "Canonical key for a person",
		Long: `Print the canonical key for a person: the lower-cased email when one is
given, otherwise "name:" followed by the normalized full name.

Examples:
  factctl key person --email Jane.Doe@Acme.com
  factctl key person --first Jane --last Doe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), entitykey.PersonKey(p))
			return nil
		},
	}
	person.Flags().StringVar(&p.Email, "email", "", "email address")
	person.Flags().StringVar(&p.FirstName, "first", "", "first name")
	person.Flags().StringVar(&p.LastName, "last", "", "last name")

	var o entitykey.Organization
	org := &cobra.Command{
		Use:   "org",
		Short: "Canonical key for an organization",
		Long: `Print the canonical key for an organization: the lower-cased domain when
one is given, otherwise "name:" followed by the name without legal suffixes.
--domain accepts a URL or an email address.

Examples:
  factctl key org --domain https://www.acme.com/about
  factctl key org --name "Acme, Inc."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := o
			if d, ok := entitykey.ExtractDomain(o.Domain); ok {
				in.Domain = d
			}
			fmt.Fprintln(cmd.OutOrStdout(), entitykey.OrgKey(in))
			return nil
		},
	}
	org.Flags().StringVar(&o.Domain, "domain", "", "domain, website URL or email")
	org.Flags().StringVar(&o.Name, "name", "", "organization name")

	cmd.AddCommand(person, org)
	return cmd
}

func newDomainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domain <url-or-email>",
		Short: "Extract the registrable host from a URL or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := entitykey.ExtractDomain(args[0])
			if !ok {
				return fmt.Errorf("no domain in %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func newSimilarityCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "similarity <a> <b>",
		Short: "Score how alike two names are",
		Long: `Print the normalized Levenshtein similarity of two names and whether it
clears the match threshold for the given kind (person 0.85, org 0.80).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var threshold float64
			switch kind {
			case "person":
				threshold = entitykey.PersonMatchThreshold
			case "org", "organization":
				threshold = entitykey.OrgMatchThreshold
			default:
				return fmt.Errorf("--kind must be person or org, got %q", kind)
			}

			score := entitykey.Similarity(args[0], args[1])
			verdict := color.New(color.FgRed).Sprint("different")
			if score > threshold {
				verdict = color.New(color.FgGreen).Sprint("match")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s (threshold %.2f)\n", score, verdict, threshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "person", "person or org")
	return cmd
}
