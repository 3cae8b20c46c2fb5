package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/windlass-cd/windlass/repository"
	"github.com/windlass-cd/windlass/util/errors"
)

// NewReviewsCommand returns the command tree managing review units.
func NewReviewsCommand() *cobra.Command {
	var repoPath string
	command := &cobra.Command{
		Use:   "reviews",
		Short: "Manage pending descriptor changes",
		Run: func(c *cobra.Command, args []string) {
			c.HelpFunc()(c, args)
		},
	}
	command.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the desired-state repository")
	command.AddCommand(newReviewsListCommand(&repoPath))
	command.AddCommand(newReviewsApproveCommand(&repoPath))
	command.AddCommand(newReviewsRejectCommand(&repoPath))
	return command
}

func newReviewsListCommand(repoPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List review units",
		Run: func(c *cobra.Command, args []string) {
			repo, err := repository.Open(*repoPath)
			errors.CheckError(err)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "ID\tSTATE\tUNIT\tNEW IMAGE\tAGE\tMESSAGE\n")
			for _, review := range repo.Reviews() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					review.ID, review.State, review.Unit, review.NewImage, humanize.Time(review.CreatedAt), review.Message)
			}
			_ = w.Flush()
		},
	}
}

func newReviewsApproveCommand(repoPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "approve REVIEW-ID",
		Short: "Merge a review unit, advancing the desired state",
		Run: func(c *cobra.Command, args []string) {
			if len(args) != 1 {
				c.HelpFunc()(c, args)
				os.Exit(errors.ErrorGeneric)
			}
			repo, err := repository.Open(*repoPath)
			errors.CheckError(err)
			revision, err := repo.Merge(c.Context(), args[0])
			errors.CheckError(err)
			fmt.Printf("Merged review %s, desired state now at %s\n", args[0], revision)
		},
	}
}

func newReviewsRejectCommand(repoPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reject REVIEW-ID",
		Short: "Reject a review unit without changing the desired state",
		Run: func(c *cobra.Command, args []string) {
			if len(args) != 1 {
				c.HelpFunc()(c, args)
				os.Exit(errors.ErrorGeneric)
			}
			repo, err := repository.Open(*repoPath)
			errors.CheckError(err)
			errors.CheckError(repo.Reject(c.Context(), args[0]))
			fmt.Printf("Rejected review %s\n", args[0])
		},
	}
}
