// Package repository stores the desired-state descriptor in a git repository.
// The descriptor on the main branch is the single source of truth; automation
// never commits to it directly. Changes are proposed as review units (a
// branch plus a pending record) and only an explicit merge advances desired
// state.
package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/windlass-cd/windlass/common"
	"github.com/windlass-cd/windlass/pkg/deploy"
	"github.com/windlass-cd/windlass/updater"
)

var (
	// ErrReviewNotFound is returned when no review unit exists under the given id
	ErrReviewNotFound = errors.New("review unit not found")
	// ErrReviewClosed is returned when acting on an already merged or rejected review unit
	ErrReviewClosed = errors.New("review unit already closed")
	// ErrNoChange is returned when a proposed update would not change the descriptor
	ErrNoChange = errors.New("proposed change is identical to current desired state")
	// ErrMergeConflict is returned when a review unit no longer applies to the
	// current desired state
	ErrMergeConflict = errors.New("review unit conflicts with current desired state")
)

// ReviewState is the lifecycle state of a review unit
type ReviewState string

const (
	ReviewPending  ReviewState = "Pending"
	ReviewMerged   ReviewState = "Merged"
	ReviewRejected ReviewState = "Rejected"
)

// ReviewUnit is a proposed, human-approvable change to desired state. Merging
// it is the sole trigger for desired-state advancement.
type ReviewUnit struct {
	ID     string `json:"id"`
	Branch string `json:"branch"`
	// BaseRevision is the main revision the change was proposed from
	BaseRevision string      `json:"baseRevision"`
	Unit         string      `json:"unit"`
	OldImage     string      `json:"oldImage"`
	NewImage     string      `json:"newImage"`
	Message      string      `json:"message"`
	State        ReviewState `json:"state"`
	CreatedAt    time.Time   `json:"createdAt"`
	ClosedAt     *time.Time  `json:"closedAt,omitempty"`
}

// Repository is a git-backed desired-state store
type Repository struct {
	path           string
	descriptorFile string
	repo           *git.Repository
	mainRef        plumbing.ReferenceName

	mu          sync.Mutex
	reviews     map[string]*ReviewUnit
	subscribers []func(revision string)

	commitUser  string
	commitEmail string
}

// Init creates a new desired-state repository at path with an initial
// descriptor commit
func Init(path string, descriptor *deploy.Descriptor) (*Repository, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repository at %s: %w", path, err)
	}
	r := newRepository(path, repo)
	data, err := updater.MarshalDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	if _, err := r.commitDescriptor(data, "Initial descriptor"); err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	r.mainRef = head.Name()
	return r, nil
}

// Open opens an existing desired-state repository
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", path, err)
	}
	r := newRepository(path, repo)
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("repository at %s has no commits: %w", path, err)
	}
	r.mainRef = head.Name()
	if err := r.loadReviews(); err != nil {
		return nil, fmt.Errorf("load pending reviews: %w", err)
	}
	return r, nil
}

// loadReviews reconstructs pending review units from their branches. The
// proposed descriptor is diffed against the proposal commit's parent, which
// is the base the change was made from, so the inferred unit stays correct
// even after main has advanced. Merged and rejected reviews have no branch
// anymore and are not restored.
func (r *Repository) loadReviews() error {
	branches, err := r.repo.Branches()
	if err != nil {
		return err
	}
	defer branches.Close()
	return branches.ForEach(func(ref *plumbing.Reference) error {
		id, found := strings.CutPrefix(ref.Name().Short(), common.ReviewBranchPrefix+"/")
		if !found {
			return nil
		}
		data, _, err := r.fileAt(ref.Name())
		if err != nil {
			return err
		}
		proposed, err := updater.UnmarshalDescriptor(data)
		if err != nil {
			return err
		}
		commit, err := r.repo.CommitObject(ref.Hash())
		if err != nil {
			return err
		}
		parent, err := commit.Parent(0)
		if err != nil {
			return fmt.Errorf("proposal %s has no base commit: %w", id, err)
		}
		baseFile, err := parent.File(r.descriptorFile)
		if err != nil {
			return err
		}
		baseData, err := baseFile.Contents()
		if err != nil {
			return err
		}
		base, err := updater.UnmarshalDescriptor([]byte(baseData))
		if err != nil {
			return err
		}
		review := &ReviewUnit{
			ID:           id,
			Branch:       ref.Name().Short(),
			BaseRevision: parent.Hash.String(),
			Message:      strings.TrimSpace(commit.Message),
			State:        ReviewPending,
			CreatedAt:    commit.Author.When.UTC(),
		}
		for unit, spec := range proposed.Units {
			if current, ok := base.Units[unit]; !ok || current.Image != spec.Image {
				review.Unit = unit
				review.OldImage = base.Units[unit].Image
				review.NewImage = spec.Image
			}
		}
		r.reviews[id] = review
		return nil
	})
}

func newRepository(path string, repo *git.Repository) *Repository {
	return &Repository{
		path:           path,
		descriptorFile: common.DefaultDescriptorFile,
		repo:           repo,
		reviews:        make(map[string]*ReviewUnit),
		commitUser:     common.DefaultGitCommitUser,
		commitEmail:    common.DefaultGitCommitEmail,
	}
}

// Subscribe registers a callback invoked with the new head revision whenever
// desired state advances through a merge
func (r *Repository) Subscribe(fn func(revision string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Read returns the descriptor at the current head of the main branch along
// with the revision it was read from
func (r *Repository) Read(_ context.Context) (*deploy.Descriptor, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *Repository) readLocked() (*deploy.Descriptor, string, error) {
	data, revision, err := r.fileAt(r.mainRef)
	if err != nil {
		return nil, "", err
	}
	doc, err := updater.UnmarshalDescriptor(data)
	if err != nil {
		return nil, "", err
	}
	return doc, revision, nil
}

// HeadRevision returns the current main branch revision
func (r *Repository) HeadRevision() (string, error) {
	ref, err := r.repo.Reference(r.mainRef, true)
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// Propose applies the image update to a copy of the current descriptor and
// records it as a pending review unit on its own branch. Desired state is not
// advanced; merging the review unit does that.
func (r *Repository) Propose(_ context.Context, unit string, newImage string, message string) (*ReviewUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, baseRevision, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	oldImage := doc.Units[unit].Image
	newImg := updater.ParseImage(newImage)
	if _, ok := doc.Units[unit]; ok && !newImg.DiffersFrom(updater.ParseImage(oldImage), true) {
		return nil, fmt.Errorf("%w: %s already at %s", ErrNoChange, unit, newImg.Original())
	}
	if err := updater.SetImageTag(doc, unit, newImg); err != nil {
		return nil, err
	}
	proposed, err := updater.MarshalDescriptor(doc)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	branch := fmt.Sprintf("%s/%s", common.ReviewBranchPrefix, id)
	if message == "" {
		message = fmt.Sprintf("Update %s to %s", unit, newImage)
	}
	if err := r.commitOnBranch(branch, proposed, message); err != nil {
		return nil, err
	}

	review := &ReviewUnit{
		ID:           id,
		Branch:       branch,
		BaseRevision: baseRevision,
		Unit:         unit,
		OldImage:     oldImage,
		NewImage:     doc.Units[unit].Image,
		Message:      message,
		State:        ReviewPending,
		CreatedAt:    time.Now().UTC(),
	}
	r.reviews[id] = review
	log.WithFields(log.Fields{"review": id, "unit": unit, "branch": branch}).Info("Proposed descriptor change")
	c := *review
	return &c, nil
}

// Merge applies the review unit's image update to the current descriptor,
// commits the result to the main branch and closes the review. The update is
// re-applied rather than taken as the proposed snapshot, so changes merged
// since the proposal are preserved; when the update no longer applies (unit
// removed, image renamed, constraint violated) the merge fails with
// ErrMergeConflict. The returned revision is the new desired-state revision.
func (r *Repository) Merge(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	review, ok := r.reviews[id]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}
	if review.State != ReviewPending {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s is %s", ErrReviewClosed, id, review.State)
	}

	doc, _, err := r.readLocked()
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	if err := updater.SetImageTag(doc, review.Unit, updater.ParseImage(review.NewImage)); err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s: %v", ErrMergeConflict, id, err)
	}
	data, err := updater.MarshalDescriptor(doc)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	revision, err := r.commitDescriptor(data, fmt.Sprintf("Merge review %s: %s", id[:8], review.Message))
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	_ = r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(review.Branch))
	now := time.Now().UTC()
	review.State = ReviewMerged
	review.ClosedAt = &now
	subscribers := append([]func(string){}, r.subscribers...)
	r.mu.Unlock()

	log.WithFields(log.Fields{"review": id, "unit": review.Unit, "revision": revision}).Info("Merged review, desired state advanced")
	for _, fn := range subscribers {
		fn(revision)
	}
	return revision, nil
}

// Reject closes the review unit without changing desired state
func (r *Repository) Reject(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	review, ok := r.reviews[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}
	if review.State != ReviewPending {
		return fmt.Errorf("%w: %s is %s", ErrReviewClosed, id, review.State)
	}
	_ = r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(review.Branch))
	now := time.Now().UTC()
	review.State = ReviewRejected
	review.ClosedAt = &now
	log.WithFields(log.Fields{"review": id, "unit": review.Unit}).Info("Rejected review")
	return nil
}

// Reviews lists all review units, newest first
func (r *Repository) Reviews() []*ReviewUnit {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ReviewUnit, 0, len(r.reviews))
	for _, review := range r.reviews {
		c := *review
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetReview returns a single review unit by id
func (r *Repository) GetReview(id string) (*ReviewUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	review, ok := r.reviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}
	c := *review
	return &c, nil
}

// fileAt returns the descriptor contents and revision at the tip of ref
func (r *Repository) fileAt(ref plumbing.ReferenceName) ([]byte, string, error) {
	resolved, err := r.repo.Reference(ref, true)
	if err != nil {
		return nil, "", err
	}
	commit, err := r.repo.CommitObject(resolved.Hash())
	if err != nil {
		return nil, "", err
	}
	f, err := commit.File(r.descriptorFile)
	if err != nil {
		return nil, "", fmt.Errorf("descriptor %s missing at revision %s: %w", r.descriptorFile, resolved.Hash(), err)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, "", err
	}
	return []byte(contents), resolved.Hash().String(), nil
}

// commitDescriptor writes data to the descriptor file on the main branch and
// commits it, returning the new revision
func (r *Repository) commitDescriptor(data []byte, message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", err
	}
	if r.mainRef != "" {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: r.mainRef}); err != nil {
			return "", fmt.Errorf("checkout %s: %w", r.mainRef, err)
		}
	}
	if err := os.WriteFile(filepath.Join(r.path, r.descriptorFile), data, 0o644); err != nil {
		return "", err
	}
	if _, err := wt.Add(r.descriptorFile); err != nil {
		return "", err
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: r.commitUser, Email: r.commitEmail, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("commit descriptor: %w", err)
	}
	return hash.String(), nil
}

// commitOnBranch creates branch from the main head and commits data there,
// restoring the main checkout afterwards
func (r *Repository) commitOnBranch(branch string, data []byte, message string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	restore := func() {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: r.mainRef}); err != nil {
			log.Errorf("Failed to restore main checkout: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(r.path, r.descriptorFile), data, 0o644); err != nil {
		restore()
		return err
	}
	if _, err := wt.Add(r.descriptorFile); err != nil {
		restore()
		return err
	}
	if _, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: r.commitUser, Email: r.commitEmail, When: time.Now()},
	}); err != nil {
		restore()
		return fmt.Errorf("commit proposal: %w", err)
	}
	restore()
	return nil
}
