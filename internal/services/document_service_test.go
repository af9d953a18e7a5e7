package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/docflow/docflow/internal/db/models"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	doc := env.upload(t, alice, "Contract", "%PDF-1.4 contract")
	assert.Equal(t, alice, doc.OwnerID)
	assert.Equal(t, "Contract.pdf", doc.OriginalFilename)
	assert.Equal(t, []uint{doc.ID}, visibleIDs(t, env.queries, alice))
	assert.Empty(t, visibleIDs(t, env.queries, bob))

	_, err := env.docs.Share(ctx, alice, doc.ID, bob, true, false)
	require.NoError(t, err)
	assert.Equal(t, []uint{doc.ID}, visibleIDs(t, env.queries, bob))
	_, err = env.docs.Sign(ctx, bob, doc.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.docs.Share(ctx, alice, doc.ID, bob, true, true)
	require.NoError(t, err)
	sig, err := env.docs.Sign(ctx, bob, doc.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, bob, sig.SignerID)
	assert.Equal(t, "ok", sig.Comments)
	require.NotNil(t, sig.Signer)
	assert.Equal(t, "bob@example.com", sig.Signer.Email)

	_, err = env.docs.Sign(ctx, bob, doc.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadySigned)

	require.NoError(t, env.docs.Delete(ctx, alice, doc.ID))
	assert.Empty(t, visibleIDs(t, env.queries, bob))
	_, err = env.queries.DocumentDetail(ctx, bob, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")

	_, err := env.docs.Upload(ctx, alice, UploadInput{Title: "  ", File: &FileInput{Name: "a.pdf", Content: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.docs.Upload(ctx, alice, UploadInput{Title: "No file"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, env.blobFiles(t))
	assert.Zero(t, env.count(t, &models.Document{}, "1 = 1"))
}

func TestUploadTooLargeLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.docs.maxUploadBytes = 8
	alice := env.user(t, "alice@example.com")

	_, err := env.docs.Upload(context.Background(), alice, UploadInput{
		Title: "Big",
		File:  &FileInput{Name: "big.pdf", Content: strings.NewReader(strings.Repeat("x", 64))},
	})
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, env.blobFiles(t))
	assert.Zero(t, env.count(t, &models.Document{}, "1 = 1"))
}

func TestUploadCancelledLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.docs.Upload(ctx, alice, UploadInput{
		Title: "Cancelled",
		File:  &FileInput{Name: "c.pdf", Content: strings.NewReader("partial")},
	})
	assert.ErrorIs(t, err, ErrStorage)
	assert.Empty(t, env.blobFiles(t))
	assert.Zero(t, env.count(t, &models.Document{}, "1 = 1"))
}

func TestUploadDoesNotWriteSelfGrant(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com")
	doc := env.upload(t, alice, "Mine", "x")

	assert.Zero(t, env.count(t, &models.Permission{}, "document_id = ?", doc.ID))
	_, err := env.docs.Sign(context.Background(), alice, doc.ID, "owner signs")
	assert.NoError(t, err)
}

func TestShareIsIdempotentAndReplacesFlags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Shared", "x")

	first, err := env.docs.Share(ctx, alice, doc.ID, bob, true, true)
	require.NoError(t, err)
	second, err := env.docs.Share(ctx, alice, doc.ID, bob, true, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), env.count(t, &models.Permission{}, "document_id = ? AND user_id = ?", doc.ID, bob))

	third, err := env.docs.Share(ctx, alice, doc.ID, bob, false, true)
	require.NoError(t, err)
	assert.False(t, third.CanView)
	assert.True(t, third.CanSign)
	assert.Equal(t, first.GrantedAt.Unix(), third.GrantedAt.Unix())
	require.NotNil(t, third.User)
	assert.Equal(t, bob, third.User.ID)

	// Sign without view still works; view only hides the document from lists.
	assert.Empty(t, visibleIDs(t, env.queries, bob))
	_, err = env.docs.Sign(ctx, bob, doc.ID, "")
	assert.NoError(t, err)
}

func TestShareErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Doc", "x")

	_, err := env.docs.Share(ctx, bob, doc.ID, bob, true, true)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.docs.Share(ctx, alice, doc.ID+100, bob, true, true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.docs.Share(ctx, alice, doc.ID, 9999, true, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShareWithOwnerIsNoop(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com")
	doc := env.upload(t, alice, "Doc", "x")

	perm, err := env.docs.Share(context.Background(), alice, doc.ID, alice, false, false)
	require.NoError(t, err)
	assert.True(t, perm.CanView)
	assert.True(t, perm.CanSign)
	assert.Zero(t, perm.ID)
	assert.Zero(t, env.count(t, &models.Permission{}, "document_id = ?", doc.ID))
}

func TestRevokePermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Doc", "x")

	_, err := env.docs.Share(ctx, alice, doc.ID, bob, true, false)
	require.NoError(t, err)

	assert.ErrorIs(t, env.docs.RevokePermission(ctx, bob, doc.ID, bob), ErrForbidden)
	require.NoError(t, env.docs.RevokePermission(ctx, alice, doc.ID, bob))
	assert.Empty(t, visibleIDs(t, env.queries, bob))
	assert.ErrorIs(t, env.docs.RevokePermission(ctx, alice, doc.ID, bob), ErrNotFound)
}

func TestSignWithoutGrantThenGranted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	carol := env.user(t, "carol@example.com")
	doc := env.upload(t, alice, "Doc", "x")

	_, err := env.docs.Sign(ctx, carol, doc.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.docs.Share(ctx, alice, doc.ID, carol, false, true)
	require.NoError(t, err)
	_, err = env.docs.Sign(ctx, carol, doc.ID, "")
	assert.NoError(t, err)

	_, err = env.docs.Sign(ctx, carol, doc.ID+1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentSignSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Doc", "x")
	_, err := env.docs.Share(ctx, alice, doc.ID, bob, true, true)
	require.NoError(t, err)

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.docs.Sign(ctx, bob, doc.ID, "")
		}(i)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrAlreadySigned):
			already++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
	assert.Equal(t, int64(1), env.count(t, &models.Signature{}, "document_id = ? AND signer_id = ?", doc.ID, bob))
}

func TestUpdateMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Draft", "x")

	title := "  Final  "
	desc := "signed copy"
	updated, err := env.docs.Update(ctx, alice, doc.ID, DocumentPatch{Title: &title, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)
	assert.Equal(t, "signed copy", updated.Description)
	assert.Equal(t, doc.Filename, updated.Filename)
	require.NotNil(t, updated.Owner)
	assert.Equal(t, alice, updated.Owner.ID)

	empty := ""
	updated, err = env.docs.Update(ctx, alice, doc.ID, DocumentPatch{Description: &empty})
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)
	assert.Empty(t, updated.Description)

	blank := " "
	_, err = env.docs.Update(ctx, alice, doc.ID, DocumentPatch{Title: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.docs.Update(ctx, bob, doc.ID, DocumentPatch{Title: &title})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.docs.Update(ctx, alice, doc.ID+1, DocumentPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateReplacesFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	doc := env.upload(t, alice, "Doc", "old bytes")
	oldHandle := doc.Filename

	updated, err := env.docs.Update(ctx, alice, doc.ID, DocumentPatch{
		File: &FileInput{Name: "v2.txt", ContentType: "text/plain", Content: strings.NewReader("new bytes!")},
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldHandle, updated.Filename)
	assert.Equal(t, "v2.txt", updated.OriginalFilename)
	assert.Equal(t, "text/plain", updated.ContentType)
	assert.Equal(t, int64(10), updated.SizeBytes)
	assert.Equal(t, []string{updated.Filename}, env.blobFiles(t))

	_, rc, err := env.queries.OpenDocument(ctx, alice, doc.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "new bytes!", string(body))
}

func TestUpdateByNonOwnerWritesNoBlob(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Doc", "x")

	_, err := env.docs.Update(context.Background(), bob, doc.ID, DocumentPatch{
		File: &FileInput{Name: "evil.pdf", Content: strings.NewReader("evil")},
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, []string{doc.Filename}, env.blobFiles(t))
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	carol := env.user(t, "carol@example.com")
	doc := env.upload(t, alice, "Doc", "x")
	other := env.upload(t, alice, "Other", "y")

	for _, u := range []uint{bob, carol} {
		_, err := env.docs.Share(ctx, alice, doc.ID, u, true, true)
		require.NoError(t, err)
		_, err = env.docs.Sign(ctx, u, doc.ID, "")
		require.NoError(t, err)
	}
	_, err := env.docs.Share(ctx, alice, other.ID, bob, true, false)
	require.NoError(t, err)

	assert.ErrorIs(t, env.docs.Delete(ctx, bob, doc.ID), ErrForbidden)
	require.NoError(t, env.docs.Delete(ctx, alice, doc.ID))

	assert.Zero(t, env.count(t, &models.Permission{}, "document_id = ?", doc.ID))
	assert.Zero(t, env.count(t, &models.Signature{}, "document_id = ?", doc.ID))
	assert.Zero(t, env.count(t, &models.Document{}, "id = ?", doc.ID))
	assert.Equal(t, []string{other.Filename}, env.blobFiles(t))
	assert.Equal(t, []uint{other.ID}, visibleIDs(t, env.queries, bob))
	assert.Empty(t, visibleIDs(t, env.queries, carol))

	assert.ErrorIs(t, env.docs.Delete(ctx, alice, doc.ID), ErrNotFound)
}

func TestOperationsAreMetered(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com")
	doc := env.upload(t, alice, "Doc", "x")
	_, err := env.docs.Sign(context.Background(), alice, doc.ID, "")
	require.NoError(t, err)
	_, err = env.docs.Sign(context.Background(), alice, doc.ID, "")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Counter("upload", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Counter("sign", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Counter("sign", metrics.OutcomeError)))
}

func TestUploadBlobStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice@example.com")
	cause := errors.New("disk full")
	env.blobs.failPut(cause)

	_, err := env.docs.Upload(context.Background(), alice, UploadInput{
		Title: "Memo",
		File:  &FileInput{Name: "memo.txt", Content: strings.NewReader("x")},
	})
	require.ErrorIs(t, err, ErrStorage)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, se, cause)

	assert.Zero(t, env.count(t, &models.Document{}, "1 = 1"))
	assert.Empty(t, env.blobFiles(t))
}

func TestUploadRollsBackBlobWhenRowFails(t *testing.T) {
	env := newTestEnv(t)

	// No such owner: the foreign key rejects the row after the blob is written.
	_, err := env.docs.Upload(context.Background(), 4242, UploadInput{
		Title: "Orphan",
		File:  &FileInput{Name: "orphan.pdf", Content: strings.NewReader("%PDF")},
	})
	require.ErrorIs(t, err, ErrStorage)

	assert.Len(t, env.blobs.deleteCalls(), 1)
	assert.Empty(t, env.blobFiles(t))
	assert.Zero(t, env.count(t, &models.Document{}, "1 = 1"))
}

func TestDeleteSurvivesBlobDeleteFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	doc := env.upload(t, alice, "Contract", "%PDF")
	_, err := env.docs.Share(ctx, alice, doc.ID, bob, true, true)
	require.NoError(t, err)
	_, err = env.docs.Sign(ctx, bob, doc.ID, "")
	require.NoError(t, err)

	env.blobs.failDelete(errors.New("bucket unreachable"))
	require.NoError(t, env.docs.Delete(ctx, alice, doc.ID))

	assert.Equal(t, []string{doc.Filename}, env.blobs.deleteCalls())
	assert.Zero(t, env.count(t, &models.Document{}, "id = ?", doc.ID))
	assert.Zero(t, env.count(t, &models.Permission{}, "document_id = ?", doc.ID))
	assert.Zero(t, env.count(t, &models.Signature{}, "document_id = ?", doc.ID))
	assert.Len(t, env.blobFiles(t), 1)
	assert.Empty(t, visibleIDs(t, env.queries, bob))
}
