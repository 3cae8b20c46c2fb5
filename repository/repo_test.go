package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-cd/windlass/pkg/deploy"
	"github.com/windlass-cd/windlass/updater"
)

func testDescriptor() *deploy.Descriptor {
	return &deploy.Descriptor{Units: map[string]deploy.UnitSpec{
		"guestbook": {Image: "registry.example.com/guestbook:v1.0.0", Replicas: 2, Port: 8080},
		"billing":   {Image: "registry.example.com/billing:v2.0.0", Replicas: 1},
	}}
}

func initRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Init(t.TempDir(), testDescriptor())
	require.NoError(t, err)
	return repo
}

func TestInitAndRead(t *testing.T) {
	repo := initRepo(t)

	doc, revision, err := repo.Read(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, revision)
	assert.Equal(t, "registry.example.com/guestbook:v1.0.0", doc.Units["guestbook"].Image)
	assert.Len(t, doc.Units, 2)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir, testDescriptor())
	require.NoError(t, err)

	repo, err := Open(dir)
	require.NoError(t, err)
	doc, _, err := repo.Read(t.Context())
	require.NoError(t, err)
	assert.Len(t, doc.Units, 2)
}

func TestProposeDoesNotAdvanceDesiredState(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	before, err := repo.HeadRevision()
	require.NoError(t, err)

	review, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)
	assert.Equal(t, ReviewPending, review.State)
	assert.Equal(t, "registry.example.com/guestbook:v1.0.0", review.OldImage)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", review.NewImage)

	after, err := repo.HeadRevision()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	doc, _, err := repo.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/guestbook:v1.0.0", doc.Units["guestbook"].Image)
}

func TestMergeAdvancesDesiredState(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	var notified string
	repo.Subscribe(func(revision string) { notified = revision })

	review, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)

	revision, err := repo.Merge(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, revision, notified)

	doc, readRevision, err := repo.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, revision, readRevision)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", doc.Units["guestbook"].Image)
	// unrelated unit untouched
	assert.Equal(t, "registry.example.com/billing:v2.0.0", doc.Units["billing"].Image)

	merged, err := repo.GetReview(review.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewMerged, merged.State)
}

func TestMergeSequentialReviewsKeepsBothUpdates(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	// both proposed from the same base
	first, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)
	second, err := repo.Propose(ctx, "billing", "registry.example.com/billing:v2.1.0", "")
	require.NoError(t, err)
	assert.Equal(t, first.BaseRevision, second.BaseRevision)

	_, err = repo.Merge(ctx, first.ID)
	require.NoError(t, err)
	_, err = repo.Merge(ctx, second.ID)
	require.NoError(t, err)

	doc, _, err := repo.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", doc.Units["guestbook"].Image)
	assert.Equal(t, "registry.example.com/billing:v2.1.0", doc.Units["billing"].Image)
}

func TestMergeConflictWhenUnitRemoved(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	review, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)

	// guestbook disappears from desired state before the review is merged
	doc, _, err := repo.Read(ctx)
	require.NoError(t, err)
	delete(doc.Units, "guestbook")
	data, err := updater.MarshalDescriptor(doc)
	require.NoError(t, err)
	_, err = repo.commitDescriptor(data, "Remove guestbook")
	require.NoError(t, err)

	_, err = repo.Merge(ctx, review.ID)
	assert.ErrorIs(t, err, ErrMergeConflict)

	// the review stays pending and desired state is untouched
	pending, err := repo.GetReview(review.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewPending, pending.State)
	doc, _, err = repo.Read(ctx)
	require.NoError(t, err)
	assert.NotContains(t, doc.Units, "guestbook")
}

func TestMergeTwiceFails(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	review, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)
	_, err = repo.Merge(ctx, review.ID)
	require.NoError(t, err)

	_, err = repo.Merge(ctx, review.ID)
	assert.ErrorIs(t, err, ErrReviewClosed)
}

func TestReject(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	review, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)
	require.NoError(t, repo.Reject(ctx, review.ID))

	doc, _, err := repo.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/guestbook:v1.0.0", doc.Units["guestbook"].Image)

	_, err = repo.Merge(ctx, review.ID)
	assert.ErrorIs(t, err, ErrReviewClosed)
}

func TestProposeUnknownUnit(t *testing.T) {
	repo := initRepo(t)
	_, err := repo.Propose(t.Context(), "frontend", "registry.example.com/frontend:v1", "")
	assert.Error(t, err)
}

func TestProposeNoChange(t *testing.T) {
	repo := initRepo(t)
	_, err := repo.Propose(t.Context(), "guestbook", "registry.example.com/guestbook:v1.0.0", "")
	assert.ErrorIs(t, err, ErrNoChange)
}

func TestMergeUnknownReview(t *testing.T) {
	repo := initRepo(t)
	_, err := repo.Merge(t.Context(), "no-such-id")
	assert.ErrorIs(t, err, ErrReviewNotFound)
}

func TestReviewsOrdering(t *testing.T) {
	repo := initRepo(t)
	ctx := t.Context()

	first, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "")
	require.NoError(t, err)
	second, err := repo.Propose(ctx, "billing", "registry.example.com/billing:v2.1.0", "")
	require.NoError(t, err)

	reviews := repo.Reviews()
	require.Len(t, reviews, 2)
	ids := []string{reviews[0].ID, reviews[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}

func TestOpenRestoresPendingReviews(t *testing.T) {
	dir := t.TempDir()
	repo, err := Init(dir, testDescriptor())
	require.NoError(t, err)
	ctx := t.Context()

	pending, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "bump guestbook")
	require.NoError(t, err)
	rejected, err := repo.Propose(ctx, "billing", "registry.example.com/billing:v2.1.0", "")
	require.NoError(t, err)
	require.NoError(t, repo.Reject(ctx, rejected.ID))

	reopened, err := Open(dir)
	require.NoError(t, err)

	reviews := reopened.Reviews()
	require.Len(t, reviews, 1)
	assert.Equal(t, pending.ID, reviews[0].ID)
	assert.Equal(t, ReviewPending, reviews[0].State)
	assert.Equal(t, "guestbook", reviews[0].Unit)
	assert.Equal(t, "registry.example.com/guestbook:v1.0.0", reviews[0].OldImage)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", reviews[0].NewImage)
	assert.Equal(t, "bump guestbook", reviews[0].Message)

	_, err = reopened.Merge(ctx, pending.ID)
	require.NoError(t, err)
	doc, _, err := reopened.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", doc.Units["guestbook"].Image)
}

func TestOpenRestoresReviewAfterMainAdvanced(t *testing.T) {
	dir := t.TempDir()
	repo, err := Init(dir, testDescriptor())
	require.NoError(t, err)
	ctx := t.Context()

	base, err := repo.HeadRevision()
	require.NoError(t, err)
	pending, err := repo.Propose(ctx, "guestbook", "registry.example.com/guestbook:v1.1.0", "bump guestbook")
	require.NoError(t, err)

	// main advances through an unrelated merge while the review stays open
	other, err := repo.Propose(ctx, "billing", "registry.example.com/billing:v2.1.0", "")
	require.NoError(t, err)
	_, err = repo.Merge(ctx, other.ID)
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)

	reviews := reopened.Reviews()
	require.Len(t, reviews, 1)
	assert.Equal(t, pending.ID, reviews[0].ID)
	assert.Equal(t, "guestbook", reviews[0].Unit)
	assert.Equal(t, "registry.example.com/guestbook:v1.0.0", reviews[0].OldImage)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", reviews[0].NewImage)
	assert.Equal(t, base, reviews[0].BaseRevision)

	// merging after reopen keeps the change merged in between
	_, err = reopened.Merge(ctx, pending.ID)
	require.NoError(t, err)
	doc, _, err := reopened.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/guestbook:v1.1.0", doc.Units["guestbook"].Image)
	assert.Equal(t, "registry.example.com/billing:v2.1.0", doc.Units["billing"].Image)
}
