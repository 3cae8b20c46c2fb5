package commands

import (
	"context"
	"fmt"
	"os/exec"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/windlass-cd/windlass/build"
	"github.com/windlass-cd/windlass/registry"
	"github.com/windlass-cd/windlass/repository"
	"github.com/windlass-cd/windlass/updater"
	"github.com/windlass-cd/windlass/util/errors"
)

// NewPromoteCommand returns the command that builds and publishes an artifact
// for a revision and proposes the corresponding descriptor change.
func NewPromoteCommand() *cobra.Command {
	var (
		repoPath    string
		registryURL string
		revision    string
		unit        string
		strategy    string
		buildCmd    string
		message     string
		merge       bool
	)
	command := &cobra.Command{
		Use:   "promote",
		Short: "Build, publish and propose a new image tag for a unit",
		Long: `Promote a unit to a new image tag. With --revision the artifact is built and
published first. Without it the newest already-published tag permitted by the
unit's constraint is selected, ordered per --strategy.`,
		Run: func(c *cobra.Command, args []string) {
			ctx := c.Context()
			if unit == "" {
				errors.Fatal(errors.ErrorGeneric, "--unit is required")
			}
			if revision == "" && registryURL == "" {
				errors.Fatal(errors.ErrorGeneric, "either --revision or --registry-url is required")
			}

			repo, err := repository.Open(repoPath)
			errors.CheckError(err)
			doc, _, err := repo.Read(ctx)
			errors.CheckError(err)
			spec, ok := doc.Units[unit]
			if !ok {
				errors.Fatalf(errors.ErrorGeneric, "unit %s not found in descriptor", unit)
			}

			var reg registry.Registry
			if registryURL != "" {
				client, err := registry.NewClient(registryURL, registry.ClientOpts{})
				errors.CheckError(err)
				reg = client
			} else {
				log.Warn("No registry URL configured, publishing to an in-process registry")
				reg = registry.NewInMemory()
			}

			var tag string
			if revision != "" {
				pipeline := build.NewPipeline(buildFunc(buildCmd), reg, 1)
				artifact, err := pipeline.Run(ctx, revision)
				errors.CheckError(err)
				log.WithFields(log.Fields{"tag": artifact.Tag, "digest": artifact.Digest}).Info("Published artifact")
				tag = artifact.Tag
			} else {
				tag, err = newestPublishedTag(ctx, reg, spec.Constraint, strategy)
				errors.CheckError(err)
				if tag == "" {
					errors.Fatalf(errors.ErrorGeneric, "no published tag satisfies constraint %q for unit %s", spec.Constraint, unit)
				}
				log.WithFields(log.Fields{"tag": tag, "strategy": strategy}).Info("Selected newest published tag")
			}
			newImage := updater.ParseImage(spec.Image).WithTag(tag).GetFullNameWithTag()

			review, err := repo.Propose(ctx, unit, newImage, message)
			errors.CheckError(err)
			fmt.Printf("Review %s proposes %s for unit %s\n", review.ID, newImage, unit)

			if merge {
				newRevision, err := repo.Merge(ctx, review.ID)
				errors.CheckError(err)
				fmt.Printf("Merged review %s, desired state now at %s\n", review.ID, newRevision)
			}
		},
	}
	command.Flags().StringVar(&repoPath, "repo", ".", "path to the desired-state repository")
	command.Flags().StringVar(&registryURL, "registry-url", "", "artifact registry base URL")
	command.Flags().StringVar(&revision, "revision", "", "source revision to build; omit to select an already-published tag")
	command.Flags().StringVar(&unit, "unit", "", "deployable unit to promote")
	command.Flags().StringVar(&strategy, "strategy", "semver", "tag ordering for published-tag selection. One of: semver|alphabetical|none")
	command.Flags().StringVar(&buildCmd, "build-command", "", "shell command producing the artifact on stdout, run with REVISION set")
	command.Flags().StringVar(&message, "message", "", "review message")
	command.Flags().BoolVar(&merge, "merge", false, "merge the review immediately instead of leaving it pending")
	return command
}

// newestPublishedTag selects the newest tag in the registry that the unit's
// version constraint permits.
func newestPublishedTag(ctx context.Context, reg registry.Registry, constraint string, strategy string) (string, error) {
	parsed, err := updater.ParseStrategy(strategy)
	if err != nil {
		return "", err
	}
	tags, err := reg.Tags(ctx)
	if err != nil {
		return "", fmt.Errorf("list registry tags: %w", err)
	}
	vc := updater.VersionConstraint{Constraint: constraint, Strategy: parsed}
	return vc.NewestAllowed(tags)
}

// buildFunc returns the artifact producer for the pipeline. With no build
// command configured the artifact carries just the revision marker.
func buildFunc(buildCmd string) build.BuildFunc {
	return func(ctx context.Context, revision string) ([]byte, error) {
		if buildCmd == "" {
			return fmt.Appendf(nil, "revision: %s\n", revision), nil
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", buildCmd)
		cmd.Env = append(cmd.Environ(), "REVISION="+revision)
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("build command failed: %w", err)
		}
		return out, nil
	}
}
